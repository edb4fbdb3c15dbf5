package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aligator/govfat"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info IMAGE",
		Short: "show the geometry of an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vol, err := openImage(args[0], false)
			if err != nil {
				return err
			}
			defer vol.Close()

			g := vol.Geometry()
			label, err := vol.Label()
			if err != nil {
				log.Warnf("Unable to read the volume label: %v", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Type:             %v\n", g.Type)
			fmt.Fprintf(out, "Label:            %q\n", label)
			fmt.Fprintf(out, "Volume ID:        %08X\n", g.VolumeID)
			fmt.Fprintf(out, "OEM name:         %q\n", g.OEMName)
			fmt.Fprintf(out, "Bytes per sector: %d\n", g.BytesPerSector)
			fmt.Fprintf(out, "Cluster size:     %d\n", g.ClusterSize())
			fmt.Fprintf(out, "FAT copies:       %d\n", g.NumFATs)
			fmt.Fprintf(out, "Sectors per FAT:  %d\n", g.SectorsPerFAT)
			fmt.Fprintf(out, "Clusters:         %d\n", g.ClusterCount)
			fmt.Fprintf(out, "Free clusters:    %d (%d bytes)\n", vol.FreeClusters(), vol.FreeBytes())
			fmt.Fprintf(out, "Clean:            %v\n", vol.WasClean())

			if res := vol.Table().Verify(); !res.OK() {
				fmt.Fprintf(out, "FAT copies out of sync: %v\n", res.Failed())
			}
			return nil
		},
	}
}

func lsCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "ls IMAGE [PATH]",
		Short: "list a directory",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			vol, err := openImage(args[0], false)
			if err != nil {
				return err
			}
			defer vol.Close()

			dir := vol.Root()
			if len(args) == 2 {
				for _, part := range strings.FieldsFunc(args[1], func(r rune) bool { return r == '/' || r == '\\' }) {
					if dir, err = dir.OpenDir(part); err != nil {
						return err
					}
				}
			}

			entries, err := dir.List()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, e := range entries {
				if e.IsVolumeLabel() && !all {
					continue
				}
				fmt.Fprintf(out, "%s %10d %s %-12s %s\n", e.Attr, e.Size, e.Modified.Format("2006-01-02 15:04:05"), e.ShortName, e.Name)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Also show the volume label entry")
	return cmd
}

func catCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cat IMAGE PATH",
		Short: "print the content of a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			vol, err := openImage(args[0], false)
			if err != nil {
				return err
			}
			fat := govfat.NewFs(vol)
			defer fat.Close()

			file, err := fat.Open(args[1])
			if err != nil {
				return err
			}
			defer file.Close()

			_, err = io.Copy(cmd.OutOrStdout(), file)
			return err
		},
	}
}

func treeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tree IMAGE",
		Short: "print every path of an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vol, err := openImage(args[0], false)
			if err != nil {
				return err
			}
			fat := govfat.NewFs(vol)
			defer fat.Close()

			out := cmd.OutOrStdout()
			return afero.Walk(fat, "/", func(path string, info os.FileInfo, err error) error {
				if err != nil {
					return err
				}
				if info.IsDir() {
					fmt.Fprintf(out, "%s/\n", strings.TrimSuffix(path, "/"))
					return nil
				}
				fmt.Fprintf(out, "%s %d %s\n", path, info.Size(), info.ModTime().Format("2006-01-02 15:04:05"))
				return nil
			})
		},
	}
}

func mkfsCmd() *cobra.Command {
	var (
		size    int64
		fatType int
		spc     uint32
		label   string
		fats    uint32
	)
	cmd := &cobra.Command{
		Use:   "mkfs IMAGE",
		Short: "create an empty FAT image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := govfat.FormatOptions{
				SectorsPerCluster: spc,
				NumFATs:           fats,
				Label:             label,
				Log:               log.StandardLogger(),
			}
			switch fatType {
			case 0:
			case 12:
				opts.ForceType, opts.Type = true, govfat.FAT12
			case 16:
				opts.ForceType, opts.Type = true, govfat.FAT16
			case 32:
				opts.ForceType, opts.Type = true, govfat.FAT32
			default:
				return fmt.Errorf("unknown FAT type %d", fatType)
			}

			file, err := osFs.OpenFile(args[0], os.O_RDWR|os.O_CREATE, 0644)
			if err != nil {
				return err
			}
			defer file.Close()

			if err := file.Truncate(size); err != nil {
				return err
			}
			if err := govfat.Format(file, size, opts); err != nil {
				return err
			}
			log.Infof("Created %s", args[0])
			return nil
		},
	}
	cmd.Flags().Int64Var(&size, "size", 1440*1024, "Size of the image in bytes")
	cmd.Flags().IntVar(&fatType, "type", 0, "FAT type (12, 16 or 32), derived from the size if 0")
	cmd.Flags().Uint32Var(&spc, "sectors-per-cluster", 0, "Sectors per cluster, chosen automatically if 0")
	cmd.Flags().Uint32Var(&fats, "fats", 2, "Number of FAT copies")
	cmd.Flags().StringVar(&label, "label", "", "Volume label")
	return cmd
}

func orphansCmd() *cobra.Command {
	var reclaim bool
	cmd := &cobra.Command{
		Use:   "orphans IMAGE",
		Short: "find allocated clusters no entry references",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vol, err := openImage(args[0], reclaim)
			if err != nil {
				return err
			}
			defer vol.Close()

			if reclaim {
				n, err := vol.ReclaimOrphans()
				if err != nil {
					return err
				}
				log.Infof("Freed %d clusters", n)
				return nil
			}

			orphans, err := vol.ScanOrphans()
			if err != nil {
				return err
			}
			for _, c := range orphans {
				fmt.Fprintln(cmd.OutOrStdout(), c)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&reclaim, "reclaim", false, "Free the orphaned clusters")
	return cmd
}
