// Package language canonicalizes translation target languages.
//
// Users name targets loosely ("chinese", "zh_cn", "ja", "中文"). Canonical
// turns recognized input into a BCP 47 tag so task records and the
// translation cache key agree; anything unrecognized passes through
// unchanged for the model to interpret.
package language
