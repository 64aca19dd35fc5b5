package recommend

import "errors"

var (
	// ErrRemoteUnavailable 排序服務逾時、連線失敗或回應非成功狀態；由流程降級處理
	ErrRemoteUnavailable = errors.New("ranking service unavailable")
	// ErrCatalogUnavailable 食譜資料庫無法使用，請求直接失敗
	ErrCatalogUnavailable = errors.New("recipe catalog unavailable")
	// ErrExhaustedCombinations 已無新組合可推薦，屬正常的結束訊號
	ErrExhaustedCombinations = errors.New("no novel combination available")
	// ErrInvalidInventory 食材清單為空或格式錯誤
	ErrInvalidInventory = errors.New("invalid inventory")
	// ErrTrackerUnavailable 組合追蹤器後端錯誤
	ErrTrackerUnavailable = errors.New("combination tracker unavailable")
)
