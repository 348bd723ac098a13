package translation

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"

	"paperflow/internal/fileutil"
)

// ChunkKey returns the cache key for a chunk: its SHA-256 hex digest.
func ChunkKey(chunk string) string {
	sum := sha256.Sum256([]byte(chunk))
	return hex.EncodeToString(sum[:])
}

// CachePath returns the cache file that accompanies a translated output.
func CachePath(outputPath string) string {
	return outputPath + ".cache.json"
}

// loadCache reads a chunk cache. Missing or unreadable caches are empty.
func loadCache(path string) map[string]string {
	cache := map[string]string{}
	if path == "" {
		return cache
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cache
	}
	var decoded map[string]string
	if err := json.Unmarshal(data, &decoded); err != nil || decoded == nil {
		return cache
	}
	return decoded
}

func saveCache(path string, cache map[string]string) error {
	return fileutil.WriteJSON(path, cache)
}
