package transmission

import (
	"bufio"
	"bytes"
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/mniyk/guardian-agent/internal/metrics"
	"github.com/mniyk/guardian-agent/module"
)

// 行単位の追加検証
type LineValidator interface {
	Validate(line []byte) error
}

// JSON Lines のイベントストリームを読み、1件ずつ fn に渡す
// '{' で始まらない行（ログ出力など）は無視し、壊れた行は記録して読み飛ばす
func DecodeStream(r io.Reader, logger *zap.Logger, m *metrics.Metrics, fn func(*module.Event) error) error {
	return DecodeStreamWith(r, nil, logger, m, fn)
}

// validator が nil でなければ、解析の前に各行を検証する
func DecodeStreamWith(r io.Reader, validator LineValidator, logger *zap.Logger, m *metrics.Metrics, fn func(*module.Event) error) error {
	reader := bufio.NewReader(r)

	for lineNo := 1; ; lineNo++ {
		raw, readErr := reader.ReadBytes('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return readErr
		}

		line := bytes.TrimSpace(raw)
		if len(line) > 0 && line[0] == '{' {
			event, err := parseLine(line, validator)
			if err != nil {
				m.IncInvalidEvents()
				logger.Error("Failed to parse event JSON",
					zap.Int("line", lineNo),
					zap.ByteString("raw", line),
					zap.Error(err))
			} else if err := fn(event); err != nil {
				return err
			}
		}

		if readErr != nil {
			return nil
		}
	}
}

func parseLine(line []byte, validator LineValidator) (*module.Event, error) {
	if validator != nil {
		if err := validator.Validate(line); err != nil {
			return nil, err
		}
	}
	return module.ParseEvent(line)
}
