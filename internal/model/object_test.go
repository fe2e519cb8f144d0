package model

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		in   string
		want Kind
		ok   bool
	}{
		{"rect", KindRect, true},
		{"Rectangle", KindRect, true},
		{"pen", KindPath, true},
		{"freehand", KindPath, true},
		{" circle ", KindCircle, true},
		{"line", KindLine, true},
		{"text", KindText, true},
		{"triangle", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseKind(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSceneObject_Normalize(t *testing.T) {
	tests := []struct {
		name    string
		obj     SceneObject
		wantErr error
		check   func(t *testing.T, o SceneObject)
	}{
		{
			name: "rect alias and style defaults",
			obj:  SceneObject{ID: "o1", Kind: "rectangle", Rect: &RectShape{Width: 10, Height: 20}},
			check: func(t *testing.T, o SceneObject) {
				assert.Equal(t, KindRect, o.Kind)
				assert.Equal(t, 1.0, o.Geometry.ScaleX)
				assert.Equal(t, 1.0, o.Geometry.ScaleY)
				assert.Equal(t, DefaultStroke, o.Style.Stroke)
				assert.Equal(t, DefaultFill, o.Style.Fill)
				assert.Equal(t, float64(DefaultStrokeWidth), o.Style.StrokeWidth)
				assert.Nil(t, o.Style.Opacity)
			},
		},
		{
			name: "text font defaults",
			obj:  SceneObject{ID: "t1", Kind: KindText, Text: &TextShape{Text: "hi"}},
			check: func(t *testing.T, o SceneObject) {
				assert.Equal(t, float64(DefaultFontSize), o.Text.FontSize)
				assert.Equal(t, DefaultFontFamily, o.Text.FontFamily)
			},
		},
		{
			name: "path with nil points",
			obj:  SceneObject{ID: "p1", Kind: "pen", Path: &PathShape{}},
			check: func(t *testing.T, o SceneObject) {
				assert.Equal(t, KindPath, o.Kind)
				assert.NotNil(t, o.Path.Points)
			},
		},
		{
			name:    "missing id",
			obj:     SceneObject{Kind: KindCircle, Circle: &CircleShape{Radius: 3}},
			wantErr: ErrMissingObjectID,
		},
		{
			name:    "id too long",
			obj:     SceneObject{ID: ObjectID(strings.Repeat("x", MaxObjectIDLength+1)), Kind: KindCircle, Circle: &CircleShape{}},
			wantErr: ErrObjectIDTooLong,
		},
		{
			name:    "unknown kind",
			obj:     SceneObject{ID: "x", Kind: "star"},
			wantErr: ErrUnknownKind,
		},
		{
			name:    "payload missing",
			obj:     SceneObject{ID: "x", Kind: KindLine},
			wantErr: ErrKindMismatch,
		},
		{
			name:    "foreign payload",
			obj:     SceneObject{ID: "x", Kind: KindLine, Line: &LineShape{}, Rect: &RectShape{}},
			wantErr: ErrKindMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.obj.Normalize()
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, got)
		})
	}
}

func TestSceneObject_NormalizeIsIdempotent(t *testing.T) {
	in := SceneObject{ID: "t1", Kind: "text", Text: &TextShape{Text: "hello"}}

	once, err := in.Normalize()
	require.NoError(t, err)
	twice, err := once.Normalize()
	require.NoError(t, err)

	assert.Equal(t, once, twice)
}

func TestSnapshot_EncodeDecode(t *testing.T) {
	opacity := 0.5
	snap := Snapshot{
		FormatVersion: DefaultFormatVersion,
		Objects: []SceneObject{
			{ID: "a", Kind: KindRect, Geometry: Geometry{X: 1, Y: 2, ScaleX: 1, ScaleY: 1}, Style: Style{Stroke: "#fff", Fill: "red", Opacity: &opacity}, Rect: &RectShape{Width: 3, Height: 4}},
			{ID: "b", Kind: KindLine, Geometry: Geometry{ScaleX: 1, ScaleY: 1}, Style: Style{Stroke: "#000", Fill: "transparent"}, Line: &LineShape{X2: 5, Y2: 5}},
		},
	}

	data, err := snap.Encode()
	require.NoError(t, err)

	decoded, err := DecodeSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, snap, decoded)
}

func TestDecodeSnapshot_FillsMissingFields(t *testing.T) {
	decoded, err := DecodeSnapshot([]byte(`{}`))
	require.NoError(t, err)

	assert.Equal(t, DefaultFormatVersion, decoded.FormatVersion)
	assert.NotNil(t, decoded.Objects)
	assert.Equal(t, 0, decoded.Len())

	_, err = DecodeSnapshot([]byte(`not json`))
	assert.Error(t, err)
}

func TestSnapshot_EncodeEmptyHasObjectsArray(t *testing.T) {
	data, err := Snapshot{}.Encode()
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.JSONEq(t, `[]`, string(raw["objects"]))
	assert.JSONEq(t, `"5.3.0"`, string(raw["formatVersion"]))
}

func TestNormalizeTitle(t *testing.T) {
	assert.Equal(t, DefaultBoardTitle, NormalizeTitle(""))
	assert.Equal(t, "Sprint", NormalizeTitle("Sprint"))

	long := strings.Repeat("가", MaxBoardTitleRunes+10)
	assert.Equal(t, MaxBoardTitleRunes, len([]rune(NormalizeTitle(long))))
}

func TestGuestName(t *testing.T) {
	assert.Equal(t, "User_abcde", GuestName("abcdef-1234"))
	assert.Equal(t, "User_ab", GuestName("ab"))
}
