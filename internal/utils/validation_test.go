package utils

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsValidAccountPassword(t *testing.T) {
	valid := []string{"banana12!", "Abcdefg1~", "a1`aaaaa", "x9=xxxxxxxxxxxxxxxxx"}
	for _, pw := range valid {
		require.True(t, IsValidAccountPassword(pw), pw)
	}
	invalid := []string{
		"",
		"ab1!",
		"abcdefgh!",
		"12345678!",
		"abcd1234",
		"abcd1234.",
		"x9=xxxxxxxxxxxxxxxxxx",
	}
	for _, pw := range invalid {
		require.False(t, IsValidAccountPassword(pw), pw)
	}
}

func TestIsHangulName(t *testing.T) {
	require.True(t, IsHangulName("홍길동"))
	require.True(t, IsHangulName("이훈"))
	require.True(t, IsHangulName("남궁가나다라"))
	require.False(t, IsHangulName("홍"))
	require.False(t, IsHangulName("남궁가나다라마"))
	require.False(t, IsHangulName("홍 길동"))
	require.False(t, IsHangulName("Hong"))
	require.False(t, IsHangulName("ㅎㄱㄷ"))
}

func TestNormalizeEmail(t *testing.T) {
	got, ok := NormalizeEmail("  User.Name@Example.COM ")
	require.True(t, ok)
	require.Equal(t, "user.name@example.com", got)

	for _, bad := range []string{"", "no-at-sign", "Name <name@example.com>", "a@", "@example.com"} {
		_, ok := NormalizeEmail(bad)
		require.False(t, ok, bad)
	}
}
