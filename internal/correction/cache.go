package correction

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"sync"
	"time"

	"mathblocks/internal/types"
)

// CacheEntry 缓存条目
type CacheEntry struct {
	Hash      string    `json:"hash"`
	Original  string    `json:"original"`
	Corrected string    `json:"corrected"`
	Changes   []Change  `json:"changes"`
	CreatedAt time.Time `json:"created_at"`
}

// CacheFile 缓存文件格式
type CacheFile struct {
	Version string       `json:"version"`
	Entries []CacheEntry `json:"entries"`
}

// Cache 负责缓存公式纠错结果
type Cache struct {
	cachePath string
	cache     map[string]CacheEntry // hash -> CacheEntry
	mu        sync.RWMutex
}

// NewCache 创建新的缓存实例
func NewCache(cachePath string) *Cache {
	return &Cache{
		cachePath: cachePath,
		cache:     make(map[string]CacheEntry),
	}
}

// ComputeHash 计算文本哈希（使用 SHA256）
func (c *Cache) ComputeHash(text string) string {
	hash := sha256.Sum256([]byte(text))
	return hex.EncodeToString(hash[:])
}

// Get returns a copy of the result cached for the payload sent to the model.
func (c *Cache) Get(payload string) (*Result, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.cache[c.ComputeHash(payload)]
	if !ok {
		return nil, false
	}
	changes := make([]Change, len(entry.Changes))
	copy(changes, entry.Changes)
	return &Result{
		Original:  entry.Original,
		Corrected: entry.Corrected,
		Changes:   changes,
		Applied:   true,
	}, true
}

// Set records an applied result.
func (c *Cache) Set(payload string, res *Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	hash := c.ComputeHash(payload)
	c.cache[hash] = CacheEntry{
		Hash:      hash,
		Original:  res.Original,
		Corrected: res.Corrected,
		Changes:   res.Changes,
		CreatedAt: time.Now(),
	}
}

// Len returns the number of cached corrections.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

// Load 从文件加载缓存
func (c *Cache) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cachePath == "" {
		return nil
	}
	data, err := os.ReadFile(c.cachePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return types.NewAppError(types.ErrInternal, "failed to read cache file", err)
	}

	var cacheFile CacheFile
	if err := json.Unmarshal(data, &cacheFile); err != nil {
		return types.NewAppError(types.ErrInternal, "failed to parse cache file", err)
	}

	c.cache = make(map[string]CacheEntry, len(cacheFile.Entries))
	for _, entry := range cacheFile.Entries {
		c.cache[entry.Hash] = entry
	}
	return nil
}

// Save 保存缓存到文件
func (c *Cache) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.cachePath == "" {
		return nil
	}

	entries := make([]CacheEntry, 0, len(c.cache))
	for _, entry := range c.cache {
		entries = append(entries, entry)
	}

	data, err := json.MarshalIndent(CacheFile{Version: "1.0", Entries: entries}, "", "  ")
	if err != nil {
		return types.NewAppError(types.ErrInternal, "failed to marshal cache", err)
	}
	if err := os.WriteFile(c.cachePath, data, 0644); err != nil {
		return types.NewAppError(types.ErrInternal, "failed to write cache file", err)
	}
	return nil
}
