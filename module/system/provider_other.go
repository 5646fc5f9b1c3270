//go:build !linux

package system

type unsupportedProvider struct{}

// 新しいProviderを作成
func NewProvider() Provider {
	return unsupportedProvider{}
}

func (unsupportedProvider) Sample() (Sample, error) {
	return Sample{}, ErrUnsupported
}
