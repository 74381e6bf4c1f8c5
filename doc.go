// Package pagekit implements the page-level primitives shared by the rest
// of this module: the on-disk page header and a typed page-view overlay
// over a buffer-manager frame. The buffer manager, slot directories, B+
// tree, long-store chains, radix trie and slab store each live in their
// own subpackage and consume these primitives through the PageView
// abstraction defined here and the device package's BlockDevice.
package pagekit
