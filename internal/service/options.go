package service

import "time"

type settings struct {
	now clock
}

// Option 调整服务的可注入依赖
type Option func(*settings)

// WithClock 替换时间源（测试用）
func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

func apply(opts []Option) settings {
	s := settings{now: utcNow}
	for _, o := range opts {
		o(&s)
	}
	return s
}
