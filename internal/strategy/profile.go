package strategy

import "time"

const (
	ImageCache    = "img-cache"
	HTMLCache     = "html-cache"
	IndexCache    = "index-cache"
	PrecacheCache = "precache"
)

// Profile 描述一个命名缓存的 cache-first 策略。
type Profile struct {
	CacheName   string
	Description string
	MaxAge      time.Duration
	// Pinned 档案不继承全局 MaxAge，只接受 [[Cache]] 的显式覆盖；MaxAge 为 0 时条目常驻。
	Pinned bool
}

// Expired 判断写入时间为 stored 的条目在 now 时刻是否已超出保留期；MaxAge<=0 表示永不过期。
func (p Profile) Expired(stored, now time.Time) bool {
	if p.MaxAge <= 0 {
		return false
	}
	return now.Sub(stored) > p.MaxAge
}

// Options 描述来自配置文件的覆盖项。
type Options struct {
	MaxAgeOverride time.Duration
}

// ResolveProfile 将注册表中的默认档案与配置覆盖合并。
func ResolveProfile(profile Profile, opts Options) Profile {
	if opts.MaxAgeOverride > 0 {
		profile.MaxAge = opts.MaxAgeOverride
	}
	if profile.MaxAge < 0 {
		profile.MaxAge = 0
	}
	return profile
}
