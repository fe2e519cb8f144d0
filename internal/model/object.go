package model

import (
	"errors"
	"fmt"
	"strings"
)

// BoardID 보드 식별자 (보드 수명 동안 불변)
type BoardID string

// ObjectID 클라이언트가 부여하는 객체 식별자 (보드 내에서 유일)
type ObjectID string

// MaxObjectIDLength 객체 ID 최대 길이
const MaxObjectIDLength = 128

// Kind 도형 종류
type Kind string

const (
	KindPath   Kind = "path"
	KindRect   Kind = "rect"
	KindCircle Kind = "circle"
	KindLine   Kind = "line"
	KindText   Kind = "text"
)

// 기본 스타일 값 (클라이언트 DEFAULTS와 동일)
const (
	DefaultStroke      = "#000000"
	DefaultStrokeWidth = 2
	DefaultFill        = "transparent"
	DefaultFontSize    = 16
	DefaultFontFamily  = "Arial"
)

var (
	ErrMissingObjectID = errors.New("object id is required")
	ErrObjectIDTooLong = errors.New("object id is too long")
	ErrUnknownKind     = errors.New("unknown object kind")
	ErrKindMismatch    = errors.New("object payload does not match kind")
)

var kindAliases = map[string]Kind{
	"path":      KindPath,
	"pen":       KindPath,
	"freehand":  KindPath,
	"rect":      KindRect,
	"rectangle": KindRect,
	"circle":    KindCircle,
	"line":      KindLine,
	"text":      KindText,
}

// ParseKind 별칭을 포함한 종류 문자열을 정규화
func ParseKind(s string) (Kind, bool) {
	k, ok := kindAliases[strings.ToLower(strings.TrimSpace(s))]
	return k, ok
}

func (k Kind) String() string {
	return string(k)
}

// Point 2차원 좌표
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Geometry 모든 도형이 공유하는 위치/변환 정보
type Geometry struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Angle  float64 `json:"angle,omitempty"`
	ScaleX float64 `json:"scaleX"`
	ScaleY float64 `json:"scaleY"`
}

// Style 모든 도형이 공유하는 스타일 정보
type Style struct {
	Stroke      string   `json:"stroke"`
	StrokeWidth float64  `json:"strokeWidth"`
	Fill        string   `json:"fill"`
	Opacity     *float64 `json:"opacity,omitempty"` // nil = 불투명
}

// PathShape 자유곡선
type PathShape struct {
	Points []Point `json:"points"`
}

// RectShape 사각형
type RectShape struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// CircleShape 원
type CircleShape struct {
	Radius float64 `json:"radius"`
}

// LineShape 직선
type LineShape struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// TextShape 텍스트
type TextShape struct {
	Text       string  `json:"text"`
	FontSize   float64 `json:"fontSize"`
	FontFamily string  `json:"fontFamily"`
}

// SceneObject 화이트보드 위의 도형 하나.
// Kind 에 해당하는 payload 하나만 채워져 있어야 한다.
// Scene Store 에 들어간 객체는 불변으로 취급하며, 수정은 항상 객체 전체 교체로 이뤄진다.
type SceneObject struct {
	ID       ObjectID `json:"id"`
	Kind     Kind     `json:"kind"`
	Geometry Geometry `json:"geometry"`
	Style    Style    `json:"style"`

	Path   *PathShape   `json:"path,omitempty"`
	Rect   *RectShape   `json:"rect,omitempty"`
	Circle *CircleShape `json:"circle,omitempty"`
	Line   *LineShape   `json:"line,omitempty"`
	Text   *TextShape   `json:"text,omitempty"`
}

// Normalize 종류 별칭과 누락된 선택 필드를 정규화한 뒤 유효성을 검사
func (o SceneObject) Normalize() (SceneObject, error) {
	o.ID = ObjectID(strings.TrimSpace(string(o.ID)))
	if o.ID == "" {
		return o, ErrMissingObjectID
	}
	if len(o.ID) > MaxObjectIDLength {
		return o, ErrObjectIDTooLong
	}

	kind, ok := ParseKind(string(o.Kind))
	if !ok {
		return o, fmt.Errorf("%w: %q", ErrUnknownKind, o.Kind)
	}
	o.Kind = kind

	if o.Geometry.ScaleX == 0 {
		o.Geometry.ScaleX = 1
	}
	if o.Geometry.ScaleY == 0 {
		o.Geometry.ScaleY = 1
	}
	if o.Style.Stroke == "" {
		o.Style.Stroke = DefaultStroke
	}
	if o.Style.StrokeWidth == 0 {
		o.Style.StrokeWidth = DefaultStrokeWidth
	}
	if o.Style.Fill == "" {
		o.Style.Fill = DefaultFill
	}

	if err := o.checkPayload(); err != nil {
		return o, err
	}

	switch o.Kind {
	case KindPath:
		if o.Path.Points == nil {
			o.Path = &PathShape{Points: []Point{}}
		}
	case KindText:
		if o.Text.FontSize == 0 || o.Text.FontFamily == "" {
			t := *o.Text
			if t.FontSize == 0 {
				t.FontSize = DefaultFontSize
			}
			if t.FontFamily == "" {
				t.FontFamily = DefaultFontFamily
			}
			o.Text = &t
		}
	}

	return o, nil
}

// checkPayload kind 에 맞는 payload 하나만 존재하는지 확인
func (o SceneObject) checkPayload() error {
	present := map[Kind]bool{
		KindPath:   o.Path != nil,
		KindRect:   o.Rect != nil,
		KindCircle: o.Circle != nil,
		KindLine:   o.Line != nil,
		KindText:   o.Text != nil,
	}

	for k, set := range present {
		if k == o.Kind && !set {
			return fmt.Errorf("%w: %s payload missing", ErrKindMismatch, o.Kind)
		}
		if k != o.Kind && set {
			return fmt.Errorf("%w: unexpected %s payload on %s", ErrKindMismatch, k, o.Kind)
		}
	}
	return nil
}
