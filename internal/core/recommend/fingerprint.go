package recommend

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	inventoryPrefix = "inv:"
	queryPrefix     = "q:"
	anonymousScope  = "anonymous"
)

// InventoryFingerprint 與順序、大小寫無關的庫存指紋
func InventoryFingerprint(inv InventorySet) string {
	return inventoryPrefix + hashParts(inv.names)
}

// QueryFingerprint 文字查詢模式的指紋
func QueryFingerprint(query string) string {
	return queryPrefix + hashParts([]string{Canonicalize(query)})
}

func hashParts(parts []string) string {
	h := sha256.New()
	h.Write([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(h.Sum(nil))
}

// ScopeKey 組合追蹤與快取共用的範圍鍵：(session, fingerprint)
func ScopeKey(sessionID, fingerprint string) string {
	if sessionID == "" {
		sessionID = anonymousScope
	}
	return sessionID + "|" + fingerprint
}
