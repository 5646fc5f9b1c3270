package hostinfo

import (
	"os"
	"os/user"
	"strings"
)

const UNKNOWN = "unknown"

// ホスト情報の構造体
type HostInfo struct {
	Hostname string // イベントの hostname ラベル
	UserName string // エージェントの実行ユーザー
}

// 新しいHostInfoを作成
// hostname が空でなければそれを使い、取得できない値は "unknown" にする
func NewHostInfo(hostname string) *HostInfo {
	hostname = strings.TrimSpace(hostname)
	if hostname == "" {
		hostname = lookupHostname(os.Hostname)
	}

	return &HostInfo{
		Hostname: hostname,
		UserName: lookupUserName(),
	}
}

func lookupHostname(get func() (string, error)) string {
	name, err := get()
	if err != nil || strings.TrimSpace(name) == "" {
		return UNKNOWN
	}
	return name
}

// 実行ユーザー名を取得
func lookupUserName() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	for _, key := range []string{"USER", "USERNAME"} {
		if name := os.Getenv(key); name != "" {
			return name
		}
	}
	return UNKNOWN
}
