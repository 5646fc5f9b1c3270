package transmission

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/mniyk/guardian-agent/module"
)

const (
	headerContentEncoding = "Content-Encoding"
	encodingZstd          = "zstd"
)

// 圧縮メッセージの展開用（DecodeAll は並行呼び出し可）
var zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))

// NATSへ接続（切断時は再接続を続ける）
func ConnectNATS(url, name string, logger *zap.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// イベントをNATSのサブジェクトへ発行する
type NATSSink struct {
	nc      *nats.Conn
	subject string
	encoder *zstd.Encoder
}

// 新しいNATSSinkを作成（compress で zstd 圧縮）
func NewNATSSink(nc *nats.Conn, subject string, compress bool) (*NATSSink, error) {
	sink := &NATSSink{nc: nc, subject: subject}
	if compress {
		encoder, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		sink.encoder = encoder
	}
	return sink, nil
}

func (s *NATSSink) message(event *module.Event) (*nats.Msg, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize event: %w", err)
	}

	msg := nats.NewMsg(s.subject)
	if s.encoder != nil {
		msg.Data = s.encoder.EncodeAll(data, nil)
		msg.Header.Set(headerContentEncoding, encodingZstd)
	} else {
		msg.Data = data
	}
	return msg, nil
}

func (s *NATSSink) Write(event *module.Event) error {
	msg, err := s.message(event)
	if err != nil {
		return err
	}
	return s.nc.PublishMsg(msg)
}

// 未送信分を送り切ってから接続を閉じる
func (s *NATSSink) Close() error {
	if s.encoder != nil {
		s.encoder.Close()
	}
	return s.nc.Drain()
}

// NATSメッセージからイベントを復元（圧縮されていれば展開）
func DecodeMessage(msg *nats.Msg) (*module.Event, error) {
	data := msg.Data
	if msg.Header.Get(headerContentEncoding) == encodingZstd {
		decoded, err := zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress event: %w", err)
		}
		data = decoded
	}
	return module.ParseEvent(data)
}
