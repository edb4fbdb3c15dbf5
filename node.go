package govfat

// nodeKey identifies a short entry by the first cluster of its directory and its offset in there.
type nodeKey struct {
	dir uint32
	off int64
}

// fileNode is the directory entry shared by all open streams of one file. Renaming the file
// re-points the node at the new entry, removing it detaches the node.
type fileNode struct {
	dir     *Directory
	off     int64
	refs    int
	removed bool
}

// store persists the start cluster and size of the file.
func (n *fileNode) store(start uint32, size int64) error {
	d := n.dir
	now := d.vol.now()
	return d.updateEntry(n.off, func(h *EntryHeader) {
		h.SetFirstCluster(d.vol.geo.Type, start)
		h.FileSize = uint32(size)
		h.Attribute |= byte(AttrArchive)
		h.setModified(now)
	})
}

// acquireNode returns the node of the entry at off in d and takes a reference.
func (v *Volume) acquireNode(d *Directory, off int64) *fileNode {
	key := nodeKey{dir: d.cluster, off: off}
	n, ok := v.nodes[key]
	if !ok {
		n = &fileNode{dir: d, off: off}
		v.nodes[key] = n
	}
	n.refs++
	return n
}

// releaseNode drops a reference. The last one removes the node.
func (v *Volume) releaseNode(n *fileNode) {
	n.refs--
	if n.refs > 0 || n.removed {
		return
	}
	delete(v.nodes, nodeKey{dir: n.dir.cluster, off: n.off})
}

// moveNode re-points open streams after their entry moved from d to target.
func (v *Volume) moveNode(d *Directory, off int64, target *Directory, newOff int64) {
	key := nodeKey{dir: d.cluster, off: off}
	n, ok := v.nodes[key]
	if !ok {
		return
	}
	delete(v.nodes, key)
	n.dir, n.off = target, newOff
	v.nodes[nodeKey{dir: target.cluster, off: newOff}] = n
}

// detachNode marks the open streams of a deleted entry as removed.
func (v *Volume) detachNode(d *Directory, off int64) {
	key := nodeKey{dir: d.cluster, off: off}
	if n, ok := v.nodes[key]; ok {
		n.removed = true
		delete(v.nodes, key)
	}
}
