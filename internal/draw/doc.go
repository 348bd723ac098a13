// Package draw generates figures through the nano-banana image API.
//
// A drawing lives in <output>/drawings/<id>/state.json next to its
// downloaded result_<n>.<ext> files. Create records the request and runs
// the remote generation on a background runner; callers poll Get.
package draw
