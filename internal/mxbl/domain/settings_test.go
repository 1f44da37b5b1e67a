package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSettings_Paused(t *testing.T) {
	assert.True(t, NewSettings(nil).Paused(), "unset pause keeps enforcement off")
	assert.False(t, NewSettings(map[string]string{"pause": "0"}).Paused())
	assert.True(t, NewSettings(map[string]string{"pause": "1"}).Paused())
	assert.False(t, NewSettings(map[string]string{"PAUSE": " 0 "}).Paused())
}

func TestSettings_GetAllWith(t *testing.T) {
	s := NewSettings(map[string]string{"Pause": "1", "notice": "hi"})
	v, ok := s.Get("pause")
	assert.True(t, ok)
	assert.Equal(t, "1", v)
	_, ok = s.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, []string{"notice", "pause"}, s.Names())

	s2 := s.With("pause", "0")
	assert.False(t, s2.Paused())
	assert.True(t, s.Paused(), "original snapshot is unchanged")

	all := s.All()
	all["pause"] = "mutated"
	v, _ = s.Get("pause")
	assert.Equal(t, "1", v)
}

func TestValidSettingName(t *testing.T) {
	assert.True(t, ValidSettingName("pause"))
	assert.True(t, ValidSettingName("log_channel-2"))
	assert.False(t, ValidSettingName(""))
	assert.False(t, ValidSettingName("has space"))
	assert.False(t, ValidSettingName("semi;colon"))
}
