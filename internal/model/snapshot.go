package model

import (
	"encoding/json"
	"fmt"
)

// DefaultFormatVersion 스냅샷 포맷 버전
const DefaultFormatVersion = "5.3.0"

// Snapshot 보드 전체 상태. Objects 순서가 곧 렌더링(z) 순서
type Snapshot struct {
	FormatVersion string        `json:"formatVersion"`
	Objects       []SceneObject `json:"objects"`
}

// EmptySnapshot 빈 스냅샷 생성
func EmptySnapshot() Snapshot {
	return Snapshot{
		FormatVersion: DefaultFormatVersion,
		Objects:       []SceneObject{},
	}
}

// Len 객체 수
func (s Snapshot) Len() int {
	return len(s.Objects)
}

// Encode 저장용 JSON 직렬화
func (s Snapshot) Encode() ([]byte, error) {
	if s.FormatVersion == "" {
		s.FormatVersion = DefaultFormatVersion
	}
	if s.Objects == nil {
		s.Objects = []SceneObject{}
	}
	return json.Marshal(s)
}

// DecodeSnapshot 저장된 JSON 을 스냅샷으로 복원
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if s.FormatVersion == "" {
		s.FormatVersion = DefaultFormatVersion
	}
	if s.Objects == nil {
		s.Objects = []SceneObject{}
	}
	return s, nil
}
