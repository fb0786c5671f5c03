// Copyright ©2024 The GUDA Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package hotsort sorts fixed-width unsigned keys, optionally paired with a
// value word, on a GPU execution hierarchy: lanes inside a subgroup, subgroups
// inside a workgroup, workgroups inside a grid.
//
// The hierarchy is provided by a Device. Kernels are launched onto ordered
// streams; the workgroups of one launch run concurrently on the device's
// workers, the subgroups of one workgroup run as cooperating goroutines
// that share memory and rendezvous at a barrier, and the lanes of one
// subgroup run in lockstep and communicate through shuffles.
//
// Example usage:
//
//	dev := hotsort.NewDevice(hotsort.DefaultDeviceConfig())
//	defer dev.Close()
//
//	target, _ := hotsort.LookupTarget("nvidia-sm35-u32")
//	sorter, err := hotsort.NewSorter[uint32, uint32](dev, target)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	_, out, _ := sorter.Pad(len(keys))
//	buf, _ := hotsort.NewBuffer[uint32, uint32](dev, out, false)
//	defer buf.Free()
//	copy(buf.Keys, keys)
//
//	err = sorter.Sort(buf, buf, len(keys), true)
//
// Sorting is a fixed network of compare-exchanges. Each subgroup sorts a
// slab of W lanes by H rows of keys in registers, a block of slabs is
// merged through shared memory, and global flip and half merges double
// the sorted run length until one run covers the padded input. Targets
// describe the slab, block and merge geometry tuned for a GPU family;
// built-in targets are listed by TargetNames.
//
// Keys past count are padding. They hold the all-ones key in device
// memory but never take part in a compare-exchange, so real keys equal to
// the maximum value keep their values.
package hotsort
