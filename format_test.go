package govfat

import (
	"io"
	"os"
	"testing"

	"github.com/diskfs/go-diskfs/filesystem/fat32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChooseLayout(t *testing.T) {
	tests := []struct {
		name         string
		size         int64
		opts         FormatOptions
		wantType     FATType
		wantSPC      uint32
		wantClusters uint32
		wantFAT      uint32
		wantErr      bool
	}{
		{name: "64KiB", size: 64 << 10, wantType: FAT12, wantSPC: 1, wantClusters: 93, wantFAT: 1},
		{name: "floppy", size: 1474560, wantType: FAT12, wantSPC: 1, wantClusters: 2829, wantFAT: 9},
		{name: "4MiB prefers FAT12", size: 4 << 20, wantType: FAT12, wantSPC: 2, wantClusters: 4067, wantFAT: 12},
		{name: "4MiB forced FAT16", size: 4 << 20, opts: FormatOptions{ForceType: true, Type: FAT16}, wantType: FAT16, wantSPC: 1, wantClusters: 8095, wantFAT: 32},
		{name: "16MiB", size: 16 << 20, wantType: FAT16, wantSPC: 1, wantClusters: 32479, wantFAT: 128},
		{name: "40MiB", size: 40 << 20, wantType: FAT16, wantSPC: 2, wantClusters: 40783, wantFAT: 160},
		{name: "40MiB forced FAT32", size: 40 << 20, opts: FormatOptions{ForceType: true, Type: FAT32}, wantType: FAT32, wantSPC: 1, wantClusters: 80608, wantFAT: 640},
		{name: "600MiB", size: 600 << 20, wantType: FAT32, wantSPC: 1, wantClusters: 1209568, wantFAT: 9600},
		{name: "too small for FAT32", size: 64 << 10, opts: FormatOptions{ForceType: true, Type: FAT32}, wantErr: true},
		{name: "fixed cluster size", size: 4 << 20, opts: FormatOptions{SectorsPerCluster: 4}, wantType: FAT12, wantSPC: 4, wantClusters: 2036, wantFAT: 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := tt.opts
			opts.BytesPerSector = 512
			opts.NumFATs = 2
			opts.RootEntries = defaultRootEntries

			l, err := chooseLayout(opts, uint32(tt.size/512))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, l.kind)
			assert.Equal(t, tt.wantSPC, l.spc)
			assert.Equal(t, tt.wantClusters, l.clusters)
			assert.Equal(t, tt.wantFAT, l.sectorsPerFAT)
		})
	}
}

func TestFormat_invalidOptions(t *testing.T) {
	tests := []struct {
		name string
		opts FormatOptions
	}{
		{name: "sector size", opts: FormatOptions{BytesPerSector: 500}},
		{name: "cluster size not a power of two", opts: FormatOptions{SectorsPerCluster: 3}},
		{name: "cluster size too large", opts: FormatOptions{SectorsPerCluster: 128}},
		{name: "label too long", opts: FormatOptions{Label: "A VERY LONG LABEL"}},
		{name: "label with invalid character", opts: FormatOptions{Label: "A*B"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMedium(t, fat12Size)
			tt.opts.Log = testLogger()
			err := Format(m, fat12Size, tt.opts)
			assert.Error(t, err)
			if tt.opts.Label == "" {
				assert.ErrorIs(t, err, ErrFormat)
			} else {
				assert.ErrorIs(t, err, ErrInvalidName)
			}
		})
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name     string
		size     int64
		opts     FormatOptions
		wantType FATType
		wantFree int
	}{
		{name: "FAT12", size: fat12Size, wantType: FAT12, wantFree: 93},
		{name: "FAT16", size: fat16Size, opts: FormatOptions{ForceType: true, Type: FAT16}, wantType: FAT16, wantFree: 8095},
		{name: "FAT32", size: fat32Size, opts: FormatOptions{ForceType: true, Type: FAT32}, wantType: FAT32, wantFree: 80607},
		{name: "1 FAT", size: fat12Size, opts: FormatOptions{NumFATs: 1}, wantType: FAT12, wantFree: 94},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newFormatted(t, tt.size, tt.opts)
			vol, err := Open(m, tt.size, testOptions(ReadOnly())...)
			require.NoError(t, err)

			assert.Equal(t, tt.wantType, vol.Type())
			assert.Equal(t, tt.wantFree, vol.FreeClusters())
			assert.True(t, vol.WasClean())
			assert.True(t, vol.Table().Verify().OK())
			assert.Equal(t, uint8(0xF8), vol.Geometry().Media)
			assert.Equal(t, uint32(testTime.Unix()), vol.Geometry().VolumeID)

			fat := vol.Table().data
			assert.Equal(t, uint32(0xF8), getEntry(tt.wantType, fat, 0)&0xFF)
			assert.True(t, tt.wantType.IsEndOfChain(getEntry(tt.wantType, fat, 1)))
			assert.True(t, vol.Table().clean())

			entries, err := vol.Root().List()
			require.NoError(t, err)
			assert.Empty(t, entries)

			if tt.wantType == FAT32 {
				main := make([]byte, bootSectorSize)
				backup := make([]byte, bootSectorSize)
				require.NoError(t, readFull(m, main, 0))
				require.NoError(t, readFull(m, backup, fat32BackupSector*512))
				assert.Equal(t, main, backup)
			}
		})
	}
}

func TestFormat_overwritesOldData(t *testing.T) {
	vol := newFAT12(t)
	writeFile(t, vol.Root(), "old.txt", []byte("old"))
	require.NoError(t, vol.Close())

	m := vol.medium
	require.NoError(t, Format(m, fat12Size, FormatOptions{Log: testLogger(), Time: testTime}))
	vol, err := Open(m, fat12Size, testOptions()...)
	require.NoError(t, err)
	entries, err := vol.Root().List()
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, 93, vol.FreeClusters())
}

// The diskfs FAT32 implementation is an independent reader and writer of the format.
func TestFormat_diskfsInterop(t *testing.T) {
	t.Run("read an image created by diskfs", func(t *testing.T) {
		f := newMedium(t, fat32Size)
		dfs, err := fat32.Create(f, fat32Size, 0, 512, "DISKFS")
		require.NoError(t, err)
		require.NoError(t, dfs.Mkdir("/sub"))
		df, err := dfs.OpenFile("/HELLO.TXT", os.O_CREATE|os.O_RDWR)
		require.NoError(t, err)
		_, err = df.Write([]byte("hello from diskfs"))
		require.NoError(t, err)

		vol, err := Open(f, fat32Size, testOptions()...)
		require.NoError(t, err)
		assert.Equal(t, FAT32, vol.Type())
		label, err := vol.Label()
		require.NoError(t, err)
		assert.Equal(t, "DISKFS", label)

		root := vol.Root()
		assert.Equal(t, []byte("hello from diskfs"), readFile(t, root, "hello.txt"))
		sub, err := root.Lookup("sub")
		require.NoError(t, err)
		assert.True(t, sub.IsDir())
	})

	t.Run("diskfs reads an image created here", func(t *testing.T) {
		vol, m := newVolume(t, fat32Size, FormatOptions{ForceType: true, Type: FAT32, Label: "GOVFAT"})
		root := vol.Root()
		writeFile(t, root, "README.TXT", []byte("hello from govfat"))
		_, err := root.Mkdir("DOCS")
		require.NoError(t, err)
		require.NoError(t, vol.Close())

		dfs, err := fat32.Read(m, fat32Size, 0, 512)
		require.NoError(t, err)

		infos, err := dfs.ReadDir("/")
		require.NoError(t, err)
		var found []string
		for _, info := range infos {
			found = append(found, info.Name())
		}
		assert.Contains(t, found, "README.TXT")
		assert.Contains(t, found, "DOCS")

		df, err := dfs.OpenFile("/README.TXT", os.O_RDONLY)
		require.NoError(t, err)
		data, err := io.ReadAll(df)
		require.NoError(t, err)
		assert.Equal(t, []byte("hello from govfat"), data)
	})
}
