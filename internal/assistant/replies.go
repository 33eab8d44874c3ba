package assistant

// Fixed replies.
const (
	ApologyMessage   = "😵 抱歉，我這邊出了點問題，請稍後再試一次。"
	ClarifyFallback  = "🤔 我不太確定你的意思，可以再說清楚一點嗎？"
	CancelledMessage = "👌 好的，已取消這個計畫。"
	ResetMessage     = "🔄 之前的對話已失效，請重新告訴我你想做什麼。"
	ImageAck         = "📷 收到圖片，分析中，完成後會再傳訊息給你。"
	EmptyPlanMessage = "這個計畫沒有任何步驟，所以沒有建立行程。"
	NoNoteMessage    = "📭 目前沒有可以歸檔的筆記，先傳一張筆記的照片給我吧。"
	StateSaveWarning = "⚠️ 不過對話進度沒有存好，下一則訊息可能需要重新說明。"
)

var (
	affirmativeTokens = []string{"好", "可以", "ok", "同意", "確定", "yes"}
	negativeTokens    = []string{"不用", "取消", "不要", "不對", "不好", "cancel"}
)
