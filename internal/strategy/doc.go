// Package strategy 定义命名缓存的 cache-first 策略档案，并维护全局注册表。
// 每个档案绑定一个缓存名（img-cache/html-cache/index-cache/precache）与最大保留期，
// 代理层据此决定读缓存时是否淘汰过期条目，诊断端据此输出缓存清单。
package strategy
