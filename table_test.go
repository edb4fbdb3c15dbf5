package govfat

import (
	"errors"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutEntry(t *testing.T) {
	tests := []struct {
		name   string
		kind   FATType
		data   []byte
		writes map[uint32]uint32
		want   []byte
	}{
		{
			name:   "FAT12 even and odd neighbours",
			kind:   FAT12,
			data:   make([]byte, 6),
			writes: map[uint32]uint32{2: 0xABC, 3: 0x123},
			want:   []byte{0, 0, 0, 0xBC, 0x3A, 0x12},
		},
		{
			name:   "FAT12 odd keeps the even neighbour",
			kind:   FAT12,
			data:   []byte{0, 0, 0, 0xBC, 0xFA, 0xFF},
			writes: map[uint32]uint32{3: 0},
			want:   []byte{0, 0, 0, 0xBC, 0x0A, 0x00},
		},
		{
			name:   "FAT12 even keeps the odd neighbour",
			kind:   FAT12,
			data:   []byte{0, 0, 0, 0xFF, 0xFF, 0xFF},
			writes: map[uint32]uint32{2: 0},
			want:   []byte{0, 0, 0, 0x00, 0xF0, 0xFF},
		},
		{
			name:   "FAT16",
			kind:   FAT16,
			data:   make([]byte, 8),
			writes: map[uint32]uint32{2: 0xFFF8, 3: 0x1234},
			want:   []byte{0, 0, 0, 0, 0xF8, 0xFF, 0x34, 0x12},
		},
		{
			name:   "FAT32 keeps the reserved high bits",
			kind:   FAT32,
			data:   []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0xF0},
			writes: map[uint32]uint32{2: 0x0FFFFFFF},
			want:   []byte{0, 0, 0, 0, 0, 0, 0, 0, 0xFF, 0xFF, 0xFF, 0xFF},
		},
		{
			name:   "FAT32 ignores high bits of the value",
			kind:   FAT32,
			data:   make([]byte, 12),
			writes: map[uint32]uint32{2: 0xF0000005},
			want:   []byte{0, 0, 0, 0, 0, 0, 0, 0, 0x05, 0, 0, 0},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for cluster, value := range tt.writes {
				putEntry(tt.kind, tt.data, cluster, value)
			}
			assert.Equal(t, tt.want, tt.data)
			for cluster, value := range tt.writes {
				assert.Equal(t, value&tt.kind.mask(), getEntry(tt.kind, tt.data, cluster))
			}
		})
	}
}

func TestTable_readWrite(t *testing.T) {
	for _, newVol := range []func(t *testing.T, opts ...Option) *Volume{newFAT12, newFAT16, newFAT32} {
		vol := newVol(t)
		table := vol.Table()
		max := vol.Geometry().MaxCluster()

		t.Run(table.Type().String(), func(t *testing.T) {
			gen := table.Generation()
			require.NoError(t, table.Write(10, 11))
			require.NoError(t, table.Write(11, table.Type().EndOfChain()))
			assert.Greater(t, table.Generation(), gen)
			assert.True(t, table.Dirty())

			v, err := table.Read(10)
			require.NoError(t, err)
			assert.Equal(t, uint32(11), v)

			// Neighbours are untouched.
			v, err = table.Read(9)
			require.NoError(t, err)
			assert.Equal(t, uint32(0), v)
			v, err = table.Read(12)
			require.NoError(t, err)
			assert.Equal(t, uint32(0), v)

			chain, err := table.ChainClusters(10)
			require.NoError(t, err)
			assert.Equal(t, []uint32{10, 11}, chain)

			_, err = table.Read(1)
			assert.ErrorIs(t, err, ErrOutOfRange)
			_, err = table.Read(max + 1)
			assert.ErrorIs(t, err, ErrOutOfRange)
			assert.ErrorIs(t, table.Write(max+1, 0), ErrOutOfRange)
			assert.ErrorIs(t, table.Write(10, table.Type().mask()+1), ErrOutOfRange)

			res := table.Flush()
			require.True(t, res.OK())
			assert.Equal(t, []int{0, 1}, res.Succeeded())
			assert.False(t, table.Dirty())
			assert.True(t, table.Verify().OK())
		})
	}
}

func TestTable_Chain(t *testing.T) {
	vol := newFAT16(t)
	table := vol.Table()
	eoc := table.Type().EndOfChain()

	tests := []struct {
		name    string
		links   map[uint32]uint32
		start   uint32
		want    []uint32
		wantErr error
	}{
		{
			name:  "empty",
			start: 0,
		},
		{
			name:  "single cluster",
			links: map[uint32]uint32{20: eoc},
			start: 20,
			want:  []uint32{20},
		},
		{
			name:  "fragmented",
			links: map[uint32]uint32{30: 50, 50: 31, 31: 0xFFF8},
			start: 30,
			want:  []uint32{30, 50, 31},
		},
		{
			name:    "cycle",
			links:   map[uint32]uint32{40: 41, 41: 42, 42: 40},
			start:   40,
			want:    []uint32{40, 41, 42},
			wantErr: ErrCorruptChain,
		},
		{
			name:    "self loop",
			links:   map[uint32]uint32{60: 60},
			start:   60,
			want:    []uint32{60},
			wantErr: ErrCorruptChain,
		},
		{
			name:    "link to a free cluster",
			links:   map[uint32]uint32{70: 71},
			start:   70,
			want:    []uint32{70, 71},
			wantErr: ErrCorruptChain,
		},
		{
			name:    "link to a bad cluster",
			links:   map[uint32]uint32{80: table.Type().BadCluster()},
			start:   80,
			want:    []uint32{80},
			wantErr: ErrCorruptChain,
		},
		{
			name:    "link out of range",
			links:   map[uint32]uint32{90: 1},
			start:   90,
			want:    []uint32{90},
			wantErr: ErrCorruptChain,
		},
		{
			name:    "start out of range",
			start:   1,
			wantErr: ErrCorruptChain,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for c, v := range tt.links {
				require.NoError(t, table.Write(c, v))
			}

			it := table.Chain(tt.start)
			var got []uint32
			for it.Next() {
				got = append(got, it.Cluster())
			}
			assert.Equal(t, tt.want, got)
			if tt.wantErr != nil {
				assert.ErrorIs(t, it.Err(), tt.wantErr)
			} else {
				assert.NoError(t, it.Err())
			}

			// A reset iterator yields the same again.
			it.Reset()
			var again []uint32
			for it.Next() {
				again = append(again, it.Cluster())
			}
			assert.Equal(t, got, again)
		})
	}
}

func TestTable_cleanFlag(t *testing.T) {
	vol := newFAT32(t)
	table := vol.Table()

	gen := table.Generation()
	table.setClean(true)
	assert.True(t, table.clean())
	raw := getEntry(FAT32, table.data, 1)
	assert.Equal(t, uint32(fat32CleanBit), raw&fat32CleanBit)

	table.setClean(false)
	assert.False(t, table.clean())
	assert.Equal(t, gen, table.Generation())
	// The rest of FAT[1] is still end of chain.
	assert.True(t, FAT32.IsEndOfChain(getEntry(FAT32, table.data, 1)|fat32CleanBit))

	fat12 := newFAT12(t)
	fat12.Table().setClean(false)
	assert.True(t, fat12.Table().clean(), "FAT12 has no flag")
}

// testTableGeometry is a FAT12 layout with 2 copies of one sector each.
var testTableGeometry = Geometry{
	Type:              FAT12,
	BytesPerSector:    512,
	SectorsPerCluster: 1,
	ReservedSectors:   1,
	NumFATs:           2,
	SectorsPerFAT:     1,
	RootEntryCount:    512,
	RootDirSectors:    32,
	TotalSectors:      128,
	FirstDataSector:   35,
	ClusterCount:      93,
}

func TestTable_Flush(t *testing.T) {
	errIO := errors.New("some io error")

	tests := []struct {
		name          string
		expect        func(m *MockMediumMockRecorder, disk map[int64][]byte)
		wantSucceeded []int
		wantFailed    []int
	}{
		{
			name: "all copies written",
			expect: func(m *MockMediumMockRecorder, disk map[int64][]byte) {
				for _, off := range []int64{512, 1024} {
					m.WriteAt(gomock.Any(), off).DoAndReturn(storeAt(disk))
					m.ReadAt(gomock.Any(), off).DoAndReturn(loadAt(disk))
				}
			},
			wantSucceeded: []int{0, 1},
		},
		{
			name: "second copy fails to write",
			expect: func(m *MockMediumMockRecorder, disk map[int64][]byte) {
				m.WriteAt(gomock.Any(), int64(512)).DoAndReturn(storeAt(disk))
				m.ReadAt(gomock.Any(), int64(512)).DoAndReturn(loadAt(disk))
				m.WriteAt(gomock.Any(), int64(1024)).Return(0, errIO)
			},
			wantSucceeded: []int{0},
			wantFailed:    []int{1},
		},
		{
			name: "first copy reads back different data",
			expect: func(m *MockMediumMockRecorder, disk map[int64][]byte) {
				m.WriteAt(gomock.Any(), int64(512)).DoAndReturn(func(p []byte, off int64) (int, error) {
					return len(p), nil
				})
				m.ReadAt(gomock.Any(), int64(512)).DoAndReturn(func(p []byte, off int64) (int, error) {
					for i := range p {
						p[i] = 0xAA
					}
					return len(p), nil
				})
				m.WriteAt(gomock.Any(), int64(1024)).DoAndReturn(storeAt(disk))
				m.ReadAt(gomock.Any(), int64(1024)).DoAndReturn(loadAt(disk))
			},
			wantSucceeded: []int{1},
			wantFailed:    []int{0},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()
			m := NewMockMedium(ctrl)
			disk := map[int64][]byte{}
			tt.expect(m.EXPECT(), disk)

			table := &Table{
				medium: m,
				geo:    testTableGeometry,
				kind:   FAT12,
				data:   make([]byte, testTableGeometry.FATBytes()),
				log:    testLogger(),
			}
			require.NoError(t, table.Write(2, 3))
			require.NoError(t, table.Write(3, FAT12.EndOfChain()))

			res := table.Flush()
			assert.Equal(t, tt.wantSucceeded, res.Succeeded())
			assert.Equal(t, tt.wantFailed, res.Failed())
			if len(tt.wantFailed) > 0 {
				assert.False(t, res.OK())
				assert.ErrorIs(t, res.Err(), ErrFATSync)
				assert.True(t, table.Dirty(), "a failed flush keeps the changes pending")
			} else {
				assert.NoError(t, res.Err())
				assert.False(t, table.Dirty())
				assert.Equal(t, table.data, disk[1024])
			}
		})
	}
}

func TestTable_Flush_nothingDirty(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	// No calls expected.
	table := &Table{
		medium: NewMockMedium(ctrl),
		geo:    testTableGeometry,
		kind:   FAT12,
		data:   make([]byte, testTableGeometry.FATBytes()),
		log:    testLogger(),
	}
	res := table.Flush()
	assert.True(t, res.OK())
	assert.Equal(t, []int{0, 1}, res.Succeeded())
}

func storeAt(disk map[int64][]byte) func(p []byte, off int64) (int, error) {
	return func(p []byte, off int64) (int, error) {
		disk[off] = append([]byte(nil), p...)
		return len(p), nil
	}
}

func loadAt(disk map[int64][]byte) func(p []byte, off int64) (int, error) {
	return func(p []byte, off int64) (int, error) {
		return copy(p, disk[off]), nil
	}
}
