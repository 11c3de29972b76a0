package bus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalBroadcast(t *testing.T) {
	b := NewLocal()
	ctx := context.Background()

	var a, c []string
	unsubA, err := b.Subscribe("ch", func(d []byte) { a = append(a, string(d)) })
	require.NoError(t, err)
	_, err = b.Subscribe("ch", func(d []byte) { c = append(c, string(d)) })
	require.NoError(t, err)
	_, err = b.Subscribe("other", func(d []byte) { t.Fatal("wrong channel") })
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "ch", []byte("one")))
	unsubA()
	unsubA()
	require.NoError(t, b.Publish(ctx, "ch", []byte("two")))

	assert.Equal(t, []string{"one"}, a)
	assert.Equal(t, []string{"one", "two"}, c)
}

func TestLocalClosed(t *testing.T) {
	b := NewLocal()
	require.NoError(t, b.Close())

	assert.ErrorIs(t, b.Publish(context.Background(), "ch", nil), ErrClosed)
	_, err := b.Subscribe("ch", func([]byte) {})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOpen(t *testing.T) {
	b, err := Open(Config{})
	require.NoError(t, err)
	assert.IsType(t, &Local{}, b)

	_, err = Open(Config{Driver: "carrier-pigeon"})
	assert.Error(t, err)
}
