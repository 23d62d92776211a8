package authz

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseGrant(t *testing.T) {
	cases := []struct {
		pattern string
		want    Grant
		wantErr bool
	}{
		{pattern: "*", want: Grant{Kind: GrantAll}},
		{pattern: "course:*", want: Grant{Kind: GrantResource, Resource: "course"}},
		{pattern: "course:read", want: Grant{Kind: GrantExact, Resource: "course", Action: "read"}},
		{pattern: "  course:read  ", want: Grant{Kind: GrantExact, Resource: "course", Action: "read"}},
		{pattern: "", wantErr: true},
		{pattern: "course", wantErr: true},
		{pattern: "*:read", wantErr: true},
		{pattern: "course:read:extra", wantErr: true},
		{pattern: ":read", wantErr: true},
		{pattern: "course:", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.pattern, func(t *testing.T) {
			got, err := ParseGrant(tc.pattern)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrValidation)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestGrantRoundTrip(t *testing.T) {
	for _, pattern := range []string{"*", "course:*", "course:read"} {
		grant, err := ParseGrant(pattern)
		require.NoError(t, err)
		require.Equal(t, pattern, grant.String())
	}
}

func TestGrantMatches(t *testing.T) {
	all := Grant{Kind: GrantAll}
	require.True(t, all.Matches("course", "read"))
	require.True(t, all.Matches("anything", "at_all"))

	res := Grant{Kind: GrantResource, Resource: "course"}
	require.True(t, res.Matches("course", "read"))
	require.True(t, res.Matches("course", "delete"))
	require.False(t, res.Matches("assignment", "read"))

	exact := Grant{Kind: GrantExact, Resource: "course", Action: "read"}
	require.True(t, exact.Matches("course", "read"))
	require.False(t, exact.Matches("course", "update"))
}

func TestAssignmentActiveAt(t *testing.T) {
	now := time.Now()

	open := Assignment{}
	require.True(t, open.ActiveAt(now))

	deadline := now.Add(time.Hour)
	limited := Assignment{ValidUntil: &deadline}
	require.True(t, limited.ActiveAt(now))
	require.True(t, limited.ActiveAt(deadline), "expiry deadline itself still counts")
	require.False(t, limited.ActiveAt(deadline.Add(time.Nanosecond)))
}

func TestIsMoreAuthoritativeThan(t *testing.T) {
	require.True(t, IsMoreAuthoritativeThan(1, 22))
	require.False(t, IsMoreAuthoritativeThan(22, 1))
	require.False(t, IsMoreAuthoritativeThan(10, 10))
	require.True(t, IsMoreAuthoritativeThan(1, LevelNone))
}
