//go:build !yara

package scanner

// libyara なしのビルド（-tags yara で有効化）
type Yara struct{}

func NewYara(config Config) (*Yara, error) {
	return nil, ErrUnavailable
}

func (y *Yara) Scan(path string) ([]string, error) {
	return nil, ErrUnavailable
}

func (y *Yara) Close() error {
	return nil
}
