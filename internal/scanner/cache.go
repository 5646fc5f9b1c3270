package scanner

import (
	"fmt"
	"os"
	"slices"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type cacheEntry struct {
	size    int64
	modTime time.Time
	matches []string
}

// 内容が変わっていないファイルの再スキャンを省く
// パス・サイズ・更新時刻が一致すれば前回の結果を返す。エラーは保存しない
type Cached struct {
	inner Scanner
	cache *lru.Cache[string, cacheEntry]
}

// size が0以下ならキャッシュせず inner をそのまま返す
func NewCached(inner Scanner, size int) (Scanner, error) {
	if size <= 0 {
		return inner, nil
	}
	cache, err := lru.New[string, cacheEntry](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create scan cache: %w", err)
	}
	return &Cached{inner: inner, cache: cache}, nil
}

func (c *Cached) Scan(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return c.inner.Scan(path)
	}

	if entry, ok := c.cache.Get(path); ok && entry.size == info.Size() && entry.modTime.Equal(info.ModTime()) {
		return slices.Clone(entry.matches), nil
	}

	matches, err := c.inner.Scan(path)
	if err != nil {
		c.cache.Remove(path)
		return nil, err
	}
	c.cache.Add(path, cacheEntry{
		size:    info.Size(),
		modTime: info.ModTime(),
		matches: slices.Clone(matches),
	})
	return matches, nil
}

// 内側のスキャナが Close を持つ場合は閉じる
func (c *Cached) Close() error {
	if closer, ok := c.inner.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
