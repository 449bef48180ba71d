package utils

import "fmt"

// UpstreamError 上游 HTTP 调用失败（Google / GitHub）
type UpstreamError struct {
	Service string
	Status  int
	Body    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s upstream returned %d: %s", e.Service, e.Status, e.Body)
}
