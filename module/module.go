package module

import "context"

// プロデューサがイベントを送る先
// Sendはキューが満杯の間ブロックし、イベントを破棄しない
type Sender interface {
	Send(ctx context.Context, event *Event) error
}

// 実装すべきメソッドを定義
type Module interface {
	Initialize() error                              // モジュールの初期化
	Start(ctx context.Context, sender Sender) error // モニタリングの開始（ループはバックグラウンドで実行）
	Stop() error                                    // モニタリングの停止（ループの終了を待つ）
}
