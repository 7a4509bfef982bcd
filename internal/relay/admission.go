package relay

import (
	"fmt"
	"net/http"
	"time"
)

// Rejection 准入失败时返回给握手方的结构化响应体，
// 形如 {message, code, rateLimitLeft?, rateLimitPeriod?}。
type Rejection struct {
	Message         string `json:"message"`
	Code            int    `json:"code"`
	RateLimitLeft   *int   `json:"rateLimitLeft,omitempty"`
	RateLimitPeriod *int   `json:"rateLimitPeriod,omitempty"`
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("admission rejected: %s (code %d)", r.Message, r.Code)
}

func unauthorized() *Rejection {
	return &Rejection{Message: "Unauthorized access", Code: http.StatusUnauthorized}
}

func rateLimited(left int, window time.Duration) *Rejection {
	period := int(window / time.Second)
	return &Rejection{
		Message:         "Too many requests",
		Code:            http.StatusTooManyRequests,
		RateLimitLeft:   &left,
		RateLimitPeriod: &period,
	}
}

// admit 评估一次准入请求：身份、房间、白名单、封禁和预算，
// 每次尝试消耗一个预算单位，扣成负数则记录 30 秒封禁并拒绝。
// 只能在核心循环内调用。
func (c *Core) admit(userID, roomID uint, now time.Time) *Rejection {
	user := c.reg.lookupUser(userID)
	if user == nil {
		return unauthorized()
	}
	room := c.reg.lookupRoom(roomID)
	if room == nil {
		return unauthorized()
	}
	if room.Private {
		if _, ok := room.Allowed[userID]; !ok {
			return unauthorized()
		}
	}
	if user.BannedUntil.After(now) {
		return rateLimited(user.Budget, c.cfg.RateLimitWindow)
	}
	// 封禁已过期且没有存活连接时，残留的负预算重置为上限，
	// 否则用户只能靠心跳补给恢复，而没有连接就没有心跳。
	if user.ConnID == "" && user.Budget < 0 {
		user.Budget = c.cfg.RateLimitMax
	}
	user.Budget--
	if user.Budget < 0 {
		user.BannedUntil = now.Add(c.cfg.RateLimitWindow)
		return rateLimited(user.Budget, c.cfg.RateLimitWindow)
	}
	return nil
}
