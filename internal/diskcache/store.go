package diskcache

import (
	"container/list"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	// entryPrefix 标记正式缓存条目，扫盘时据此与临时文件区分。
	entryPrefix = "cache_"
	// TempPrefix 是下载中间文件的名字前缀，超龄残留会在重新打开时被清理。
	TempPrefix = ".fetch-"
	// staleTempAge 之内的临时文件视为仍在下载中，扫盘时不能动：
	// 多个句柄共享同一目录，误删会让并行抓取的 promote 失败。
	staleTempAge = time.Hour
)

// Store 是容量受限的磁盘键值缓存。同一把互斥锁保护 LRU 表与用量计数，
// 文件本体的可见性则完全依赖调用方的 rename 协议。
type Store struct {
	dir      string
	maxBytes int64

	mu      sync.Mutex
	entries map[string]*list.Element // 文件名 -> LRU 节点
	lru     *list.List               // Front = 最近使用
	used    int64
}

type entry struct {
	name string
	size int64
}

// Open 在 dir 下构建缓存实例：建目录、清理超龄的残留临时文件、重建 LRU 账本。
// 目录不可用（被占用、权限不足、磁盘异常）时返回错误，由调用方决定是否
// 清空后重试。
func Open(dir string, maxBytes int64) (*Store, error) {
	if dir == "" {
		return nil, errors.New("cache directory required")
	}
	if maxBytes <= 0 {
		return nil, errors.New("cache capacity must be positive")
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve cache directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	s := &Store{
		dir:      abs,
		maxBytes: maxBytes,
		entries:  make(map[string]*list.Element),
		lru:      list.New(),
	}
	if err := s.rebuild(); err != nil {
		return nil, fmt.Errorf("scan cache directory: %w", err)
	}
	return s, nil
}

// Clear 删除整个缓存目录，open 失败后的自愈路径会调用它。
func Clear(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve cache directory: %w", err)
	}
	if err := os.RemoveAll(abs); err != nil {
		return fmt.Errorf("clear cache directory: %w", err)
	}
	return nil
}

// Dir 返回缓存根目录，下载临时文件必须放在这里以保证 rename 同卷原子。
func (s *Store) Dir() string {
	return s.dir
}

// FilePath 由 key 确定性地推导条目的绝对路径，不触碰磁盘。
func (s *Store) FilePath(key string) string {
	return filepath.Join(s.dir, entryName(key))
}

// Contains 报告 key 是否已有条目，命中会刷新该条目的 LRU 位置。
func (s *Store) Contains(key string) bool {
	name := entryName(key)

	s.mu.Lock()
	if el, ok := s.entries[name]; ok {
		s.lru.MoveToFront(el)
		s.mu.Unlock()
		return true
	}
	s.mu.Unlock()

	// 账本没有不代表磁盘没有：另一个句柄可能刚装入了该条目。
	info, err := os.Stat(filepath.Join(s.dir, name))
	if err != nil || info.IsDir() {
		return false
	}
	s.track(name, info.Size())
	return true
}

// NotifyInstalled 由抓取方在 promote 成功后调用，把新条目计入用量并按需淘汰。
func (s *Store) NotifyInstalled(key string) {
	name := entryName(key)
	info, err := os.Stat(filepath.Join(s.dir, name))
	if err != nil || info.IsDir() {
		return
	}
	s.track(name, info.Size())
}

// Stats 返回条目数与占用字节数，诊断接口使用。
func (s *Store) Stats() (count int, usedBytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len(), s.used
}

// Usage 只读扫描 dir 统计正式条目的数量与字节数。诊断轮询走这条路径，
// 不构建账本也绝不删除任何文件，对正在下载的临时文件完全无感。
func Usage(dir string) (count int, usedBytes int64, err error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return 0, 0, fmt.Errorf("scan cache directory: %w", err)
	}
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasPrefix(de.Name(), entryPrefix) {
			continue
		}
		info, infoErr := de.Info()
		if infoErr != nil {
			continue
		}
		count++
		usedBytes += info.Size()
	}
	return count, usedBytes, nil
}

// track 更新账本并淘汰超出预算的最旧条目，keep 指向刚写入的条目不参与淘汰。
func (s *Store) track(name string, size int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[name]; ok {
		e := el.Value.(*entry)
		s.used += size - e.size
		e.size = size
		s.lru.MoveToFront(el)
	} else {
		el = s.lru.PushFront(&entry{name: name, size: size})
		s.entries[name] = el
		s.used += size
	}
	s.evictLocked(name)
}

func (s *Store) evictLocked(keep string) {
	for s.used > s.maxBytes {
		back := s.lru.Back()
		if back == nil {
			return
		}
		e := back.Value.(*entry)
		if e.name == keep {
			// 单个条目就超出预算时保留它，预算只约束整体水位。
			return
		}
		_ = os.Remove(filepath.Join(s.dir, e.name))
		s.lru.Remove(back)
		delete(s.entries, e.name)
		s.used -= e.size
	}
}

// rebuild 扫描目录重建账本：登记正式条目（按修改时间定序），顺手清理
// 上次进程没删干净的超龄临时文件。
func (s *Store) rebuild() error {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}

	type scanned struct {
		name    string
		size    int64
		modUnix int64
	}
	var found []scanned

	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() {
			continue
		}
		if strings.HasPrefix(name, TempPrefix) {
			// 只清理明显超龄的残留；新鲜的临时文件属于正在下载的句柄。
			if info, err := de.Info(); err == nil && time.Since(info.ModTime()) > staleTempAge {
				_ = os.Remove(filepath.Join(s.dir, name))
			}
			continue
		}
		if !strings.HasPrefix(name, entryPrefix) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		found = append(found, scanned{name: name, size: info.Size(), modUnix: info.ModTime().UnixNano()})
	}

	sort.Slice(found, func(i, j int) bool {
		return found[i].modUnix < found[j].modUnix
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range found {
		el := s.lru.PushFront(&entry{name: f.name, size: f.size})
		s.entries[f.name] = el
		s.used += f.size
	}
	s.evictLocked("")
	return nil
}

// entryName 对 key 做 SHA-1 摘要得到稳定文件名，避免 URL 里的特殊字符落盘。
func entryName(key string) string {
	sum := sha1.Sum([]byte(key))
	return entryPrefix + hex.EncodeToString(sum[:])
}
