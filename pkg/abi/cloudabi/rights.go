package cloudabi

// Rights is a capability bitmask carried by an FD mapping (spec §3). At most
// 64 distinct rights are representable.
type Rights uint64

const (
	RightFDDatasync Rights = 1 << iota
	RightFDRead
	RightFDSeek
	RightFDStatSetFlags
	RightFDSync
	RightFDTell
	RightFDWrite
	RightFileAdvise
	RightFileAllocate
	RightFileCreateDirectory
	RightFileCreateFile
	RightFileLink
	RightFileOpen
	RightFileReaddir
	RightFileReadlink
	RightFileRename
	RightFileStatFGet
	RightFileStatFPut
	RightFileStatGet
	RightFileStatPut
	RightFileSymlink
	RightFileUnlink
	RightMemMap
	RightMemMapExec
	RightPollFDReadwrite
	RightSockAccept
	RightSockBind
	RightSockConnect
	RightSockListen
	RightSockRecv
	RightSockSend
	RightSockShutdown
	RightSockStat
)

// Has reports whether all bits in want are set in r.
func (r Rights) Has(want Rights) bool {
	return r&want == want
}

// Intersect returns the rights present in both r and other — the rule
// applied to rights_inheriting "on each transfer into a child FD" (spec §3).
func (r Rights) Intersect(other Rights) Rights {
	return r & other
}

// FileType is the FD subtype discriminant visible to userland (spec §3).
type FileType uint8

const (
	FiletypeUnspecified FileType = iota
	FiletypeRegularFile
	FiletypeDirectory
	FiletypeCharacterDevice
	FiletypeBlockDevice
	FiletypeSocketStream
	FiletypeSocketDgram
	FiletypeProcess
	FiletypeSharedMemory
	FiletypeSymbolicLink
)

// FDFlags is the FD-flags word (spec §3): non-blocking, append, sync,
// dsync, rsync.
type FDFlags uint16

const (
	FDFlagNonblock FDFlags = 1 << iota
	FDFlagAppend
	FDFlagSync
	FDFlagDsync
	FDFlagRsync
)
