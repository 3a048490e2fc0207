// Copyright © 2018 One Concern

package model

import (
	"testing"

	"github.com/oneconcern/refdb/pkg/core/status"
	"github.com/oneconcern/refdb/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testGroupID = "3f1b2c4d-5e6f-4a8b-9c0d-1e2f3a4b5c6d"

func TestKeyRef(t *testing.T) {
	for _, toPin := range []struct {
		Key      Key
		Expected string
	}{
		{Key: GroupKey(testGroupID), Expected: "refs/groups/3f/" + testGroupID},
		{Key: AccountKey("1000042"), Expected: "refs/accounts/10/1000042"},
		{Key: AccountKey("7"), Expected: "refs/accounts/07/7"},
	} {
		fixture := toPin
		t.Run(fixture.Key.String(), func(t *testing.T) {
			require.NoError(t, fixture.Key.Validate())
			assert.Equal(t, fixture.Expected, fixture.Key.Ref())

			back, err := KeyFromRef(fixture.Expected)
			require.NoError(t, err)
			assert.Equal(t, fixture.Key, back)
		})
	}
}

func TestKeyValidate(t *testing.T) {
	for _, key := range []Key{
		AccountKey("0"),
		AccountKey("-1"),
		AccountKey("012"),
		AccountKey("abc"),
		GroupKey("not-a-uuid"),
		GroupKey("3F1B2C4D-5E6F-4A8B-9C0D-1E2F3A4B5C6D"),
		{Class: "projects", ID: "1"},
	} {
		err := key.Validate()
		require.Errorf(t, err, "expected %v to be invalid", key)
		assert.True(t, errors.Is(err, status.ErrInvalidKey))
	}

	require.NoError(t, NewGroupKey().Validate())
}

func TestKeyFromRefInvalid(t *testing.T) {
	for _, ref := range []string{
		"refs/meta/external-ids",
		"refs/accounts/99/1000042",
		"heads/accounts/10/1000042",
		"refs/accounts/10/1000042/extra",
	} {
		_, err := KeyFromRef(ref)
		assert.Errorf(t, err, "expected %q to be rejected", ref)
	}
}

func TestParseClass(t *testing.T) {
	c, err := ParseClass("group")
	require.NoError(t, err)
	assert.Equal(t, Groups, c)

	c, err = ParseClass("accounts")
	require.NoError(t, err)
	assert.Equal(t, Accounts, c)
	assert.Equal(t, "account", c.Singular())

	_, err = ParseClass("project")
	assert.Error(t, err)
}

func TestIndexRef(t *testing.T) {
	assert.Equal(t, "refs/meta/external-ids", ExternalIDs.Ref())
	assert.True(t, IsIndexRef(GroupNames.Ref()))
	assert.False(t, IsIndexRef(AccountKey("1").Ref()))
}

func TestDeltaApply(t *testing.T) {
	base := Entity{
		Key:         GroupKey(testGroupID),
		Name:        "admins",
		Description: "administrators",
		Members:     []string{"1", "2"},
	}

	delta := Delta{
		Name:        SetString("  operators "),
		Description: Unset(),
		Members:     Compose(AddTo("3", "1", " 4 "), RemoveFrom("2")),
		Subgroups:   AddTo(""),
	}
	next := delta.Apply(base)

	assert.Equal(t, "operators", next.Name)
	assert.Empty(t, next.Description)
	assert.Equal(t, []string{"1", "3", "4"}, next.Members)
	assert.Nil(t, next.Subgroups)

	assert.Equal(t, []string{"1", "2"}, base.Members, "base must not be altered")
	assert.Equal(t, "admins", base.Name)
}

func TestDeltaIsEmpty(t *testing.T) {
	assert.True(t, Delta{}.IsEmpty())
	assert.False(t, Delta{Inactive: SetBool(false)}.IsEmpty())
	assert.False(t, Delta{ExternalIDs: ReplaceWith()}.IsEmpty())

	d, err := NoChange(Entity{})
	require.NoError(t, err)
	assert.True(t, d.IsEmpty())
}

func TestNormalizeList(t *testing.T) {
	assert.Nil(t, NormalizeList(nil))
	assert.Nil(t, NormalizeList([]string{" ", ""}))
	assert.Equal(t, []string{"a", "b", "c"}, NormalizeList([]string{"c", " a", "b", "a ", "c"}))
}

func TestEntityClone(t *testing.T) {
	e := Entity{Key: AccountKey("1"), ExternalIDs: []string{"username:jdoe"}}
	c := e.Clone()
	c.ExternalIDs[0] = "mailto:jdoe@example.com"
	assert.Equal(t, "username:jdoe", e.ExternalIDs[0])
	assert.False(t, e.Exists())
}

func TestRevision(t *testing.T) {
	r := Revision{ID: "0123456789abcdef", Message: "Update group\n\nAdd: 1\n"}
	assert.Equal(t, "Update group", r.Summary())
	assert.Equal(t, "0123456789", r.ID.Short())
	assert.True(t, ZeroRevision.IsZero())
	assert.Equal(t, "Jane Doe <jane@example.com>", Contributor{Name: "Jane Doe", Email: "jane@example.com"}.String())
}

func TestChangeEventRefs(t *testing.T) {
	ev := ChangeEvent{Changes: []RefChange{{Ref: "refs/accounts/01/1"}, {Ref: ExternalIDs.Ref()}}}
	assert.Equal(t, []string{"refs/accounts/01/1", "refs/meta/external-ids"}, ev.Refs())
}
