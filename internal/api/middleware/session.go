package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"recipe-recommender/internal/pkg/common"
)

const (
	// SessionHeader 推薦範圍使用的 session 標頭
	SessionHeader = "X-Session-ID"
	// SessionKey session ID 在 gin.Context 中的鍵
	SessionKey = "session_id"

	maxSessionLength = 128
)

// Session 取得或產生 session ID 並回寫到回應標頭。
// 客戶端未帶標頭時每次請求都是新的範圍，需保存回傳的 ID 才能翻頁。
func Session() gin.HandlerFunc {
	return func(c *gin.Context) {
		sid := strings.TrimSpace(c.GetHeader(SessionHeader))
		if sid == "" || len(sid) > maxSessionLength || strings.ContainsAny(sid, "|#") {
			sid = common.GenerateUUID()
		}
		c.Set(SessionKey, sid)
		c.Header(SessionHeader, sid)
		c.Next()
	}
}

// SessionID 取得目前請求的 session ID
func SessionID(c *gin.Context) string {
	return c.GetString(SessionKey)
}
