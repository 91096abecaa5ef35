package model

// UserScore 玩家成绩与同步状态记录
//
// totalScoreSynced / totalTransactionsSynced 只允许加法更新，
// 且只由同步 worker 在上链确认后写入
type UserScore struct {
	ID            int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID        string `gorm:"column:user_id;type:varchar(64);uniqueIndex;not null" json:"user_id"`
	Username      string `gorm:"column:username;type:varchar(100);index" json:"username"`
	WalletAddress string `gorm:"column:wallet_address;type:varchar(42);uniqueIndex;not null" json:"wallet_address"`

	// 游戏成绩
	BestScore      int64  `gorm:"column:best_score;type:bigint;not null;default:0" json:"best_score"`
	BestChart      string `gorm:"column:best_chart;type:varchar(200)" json:"best_chart"`
	BestDifficulty string `gorm:"column:best_difficulty;type:varchar(20)" json:"best_difficulty"`
	TotalScore     int64  `gorm:"column:total_score;type:bigint;not null;default:0" json:"total_score"`
	GameCount      int64  `gorm:"column:game_count;type:bigint;not null;default:0" json:"game_count"`
	LastPlayedAt   int64  `gorm:"column:last_played_at;type:bigint" json:"last_played_at"`

	// 链上同步状态
	//
	// totalScoreSynced 累计的是阻尼后的提交量，syncedBestScore 才是
	// 差值计算的绝对基线: 上次入队增量时的最好成绩
	TotalScoreSynced        int64 `gorm:"column:total_score_synced;type:bigint;not null;default:0" json:"total_score_synced"`
	TotalTransactionsSynced int64 `gorm:"column:total_transactions_synced;type:bigint;not null;default:0" json:"total_transactions_synced"`
	SyncedBestScore         int64 `gorm:"column:synced_best_score;type:bigint;not null;default:0" json:"synced_best_score"`
	PendingScore            int64 `gorm:"column:pending_score;type:bigint;not null;default:0" json:"pending_score"`
	PendingTransactions     int64 `gorm:"column:pending_transactions;type:bigint;not null;default:0" json:"pending_transactions"`
	LastSyncedAt            int64 `gorm:"column:last_synced_at;type:bigint" json:"last_synced_at"`
	SyncRetries             int   `gorm:"column:sync_retries;type:int;not null;default:0" json:"sync_retries"`
	SyncFailed              bool  `gorm:"column:sync_failed;not null;default:false" json:"sync_failed"`

	CreatedAt int64 `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
	UpdatedAt int64 `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

// TableName 返回表名
func (UserScore) TableName() string {
	return "user_scores"
}

// SyncBaseline 差值计算基线: 上次入队增量时的最好成绩
func (u *UserScore) SyncBaseline() int64 {
	return u.SyncedBestScore
}

// ScoreSubmission 分数提交请求 (HTTP 或 Kafka score-events)
type ScoreSubmission struct {
	Username      string `json:"username"`
	WalletAddress string `json:"wallet_address" binding:"required"`
	Score         int64  `json:"score" binding:"required"`
	Chart         string `json:"chart"`
	Difficulty    string `json:"difficulty"`
	PlayedAt      int64  `json:"played_at"`
}

// LeaderboardStats 排行榜统计
type LeaderboardStats struct {
	TotalPlayers int64 `json:"total_players"`
	TotalScore   int64 `json:"total_score"`
	TotalGames   int64 `json:"total_games"`
	HighestScore int64 `json:"highest_score"`
}
