// Package weekly writes Chinese weekly research reports from analyzed
// tasks, either laid out directly or composed by the language model.
package weekly
