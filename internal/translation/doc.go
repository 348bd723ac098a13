// Package translation converts extracted Markdown into a target language.
//
// Fenced code, inline code, and HTML tables are replaced by [[[TAG_i]]]
// placeholders before the text is split on blank lines and packed into
// chunks under a rune budget. Each chunk is keyed by its SHA-256 digest in a
// JSON cache beside the output, so re-running a translation only pays for
// chunks that changed. Protected spans are restored after the translated
// chunks are joined.
package translation
