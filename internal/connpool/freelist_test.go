package connpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeRecord struct{ id int }

func TestFreelistGetOnEmpty(t *testing.T) {
	fl := New[fakeRecord](4)
	assert.Nil(t, fl.Get())
}

func TestFreelistPutGetLIFO(t *testing.T) {
	fl := New[fakeRecord](4)
	a := &fakeRecord{id: 1}
	b := &fakeRecord{id: 2}
	assert.True(t, fl.Put(a))
	assert.True(t, fl.Put(b))
	assert.Equal(t, b, fl.Get())
	assert.Equal(t, a, fl.Get())
	assert.Nil(t, fl.Get())
}

func TestFreelistRejectsOverCap(t *testing.T) {
	fl := New[fakeRecord](2)
	assert.True(t, fl.Put(&fakeRecord{id: 1}))
	assert.True(t, fl.Put(&fakeRecord{id: 2}))
	assert.False(t, fl.Put(&fakeRecord{id: 3}))
	assert.Equal(t, 2, fl.Len())
}

func TestFreelistGrowsByDoubling(t *testing.T) {
	fl := New[fakeRecord](100)
	for i := 0; i < 40; i++ {
		assert.True(t, fl.Put(&fakeRecord{id: i}))
	}
	assert.Equal(t, 40, fl.Len())
}
