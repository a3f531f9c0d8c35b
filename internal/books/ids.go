package books

import (
	"fmt"
	"math/big"
	"strings"
)

// IDSource 根据 Config 枚举全部书籍 ID。ID 编码方案由源站定义，这里只要求实现方
// 返回与 Config.Digits 等宽的字符串。
type IDSource interface {
	IDs(cfg Config) ([]string, error)
}

// IDSourceFunc adapts a function to IDSource.
type IDSourceFunc func(cfg Config) ([]string, error)

// IDs makes IDSourceFunc satisfy IDSource.
func (f IDSourceFunc) IDs(cfg Config) ([]string, error) {
	return f(cfg)
}

// maxIDs 限制一次枚举的规模，防止错误的 digits 让全量缓存失控。
const maxIDs = 1 << 20

// RangeIDs 是默认 IDSource：把 First..Last 视为 Base 进制数，左补 0 到 Digits 位；
// First/Last 为空时分别取 0 与 Base^Digits-1。
type RangeIDs struct{}

// IDs 实现 IDSource。
func (RangeIDs) IDs(cfg Config) ([]string, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	limit := new(big.Int).Exp(big.NewInt(int64(cfg.Base)), big.NewInt(int64(cfg.Digits)), nil)
	first := big.NewInt(0)
	last := new(big.Int).Sub(limit, big.NewInt(1))

	if raw := strings.TrimSpace(cfg.First); raw != "" {
		if _, ok := first.SetString(strings.ToLower(raw), cfg.Base); !ok {
			return nil, fmt.Errorf("config first %q is not base %d", raw, cfg.Base)
		}
	}
	if raw := strings.TrimSpace(cfg.Last); raw != "" {
		if _, ok := last.SetString(strings.ToLower(raw), cfg.Base); !ok {
			return nil, fmt.Errorf("config last %q is not base %d", raw, cfg.Base)
		}
	}
	if first.Cmp(last) > 0 {
		return nil, fmt.Errorf("config first %s is after last %s", cfg.First, cfg.Last)
	}
	if last.Cmp(limit) >= 0 {
		return nil, fmt.Errorf("config last %s does not fit in %d digits", cfg.Last, cfg.Digits)
	}
	span := new(big.Int).Sub(last, first)
	if !span.IsInt64() || span.Int64() >= maxIDs {
		return nil, fmt.Errorf("config describes more than %d ids", maxIDs)
	}

	count := int(span.Int64()) + 1
	ids := make([]string, 0, count)
	cur := new(big.Int).Set(first)
	one := big.NewInt(1)
	for i := 0; i < count; i++ {
		ids = append(ids, padID(cur.Text(cfg.Base), cfg.Digits))
		cur.Add(cur, one)
	}
	return ids, nil
}

func padID(id string, digits int) string {
	if len(id) >= digits {
		return id
	}
	return strings.Repeat("0", digits-len(id)) + id
}

// ContentPath 把 ID 的每个字符作为一级目录，例如 "01" -> "./content/0/1.html"。
func ContentPath(id string) string {
	if id == "" {
		return ""
	}
	parts := strings.Split(id, "")
	return "./content/" + strings.Join(parts, "/") + ".html"
}

// ContentPaths 对一组 ID 批量生成内容路径，跳过空 ID。
func ContentPaths(ids []string) []string {
	result := make([]string, 0, len(ids))
	for _, id := range ids {
		if p := ContentPath(id); p != "" {
			result = append(result, p)
		}
	}
	return result
}
