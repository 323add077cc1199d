package cloudabi

// SyscallNo is the CloudABI numeric syscall registry (spec §6), restated as a
// Go enum instead of the source's preprocessor-driven table
// (original_source/proc/syscalls.hpp).
type SyscallNo uint16

const (
	SysClockResGet SyscallNo = iota
	SysClockTimeGet
	SysCondvarSignal
	SysFDClose
	SysFDCreate1
	SysFDCreate2
	SysFDDatasync
	SysFDDup
	SysFDPread
	SysFDPwrite
	SysFDRead
	SysFDReplace
	SysFDSeek
	SysFDStatGet
	SysFDStatPut
	SysFDSync
	SysFDWrite
	SysFileAdvise
	SysFileAllocate
	SysFileCreate
	SysFileLink
	SysFileOpen
	SysFileReaddir
	SysFileReadlink
	SysFileRename
	SysFileStatFGet
	SysFileStatFPut
	SysFileStatGet
	SysFileStatPut
	SysFileSymlink
	SysFileUnlink
	SysLockUnlock
	SysMemAdvise
	SysMemLock
	SysMemMap
	SysMemProtect
	SysMemSync
	SysMemUnlock
	SysMemUnmap
	SysPoll
	SysPollFD
	SysProcExec
	SysProcExit
	SysProcFork
	SysProcRaise
	SysRandomGet
	SysSockRecv
	SysSockSend
	SysSockShutdown
	SysSockStatGet
	SysSockAccept
	SysSockBind
	SysSockConnect
	SysSockListen
	SysThreadCreate
	SysThreadExit
	SysThreadYield

	sysCount
)

var syscallNames = [sysCount]string{
	SysClockResGet:   "clock_res_get",
	SysClockTimeGet:  "clock_time_get",
	SysCondvarSignal: "condvar_signal",
	SysFDClose:       "fd_close",
	SysFDCreate1:     "fd_create1",
	SysFDCreate2:     "fd_create2",
	SysFDDatasync:    "fd_datasync",
	SysFDDup:         "fd_dup",
	SysFDPread:       "fd_pread",
	SysFDPwrite:      "fd_pwrite",
	SysFDRead:        "fd_read",
	SysFDReplace:     "fd_replace",
	SysFDSeek:        "fd_seek",
	SysFDStatGet:     "fd_stat_get",
	SysFDStatPut:     "fd_stat_put",
	SysFDSync:        "fd_sync",
	SysFDWrite:       "fd_write",
	SysFileAdvise:    "file_advise",
	SysFileAllocate:  "file_allocate",
	SysFileCreate:    "file_create",
	SysFileLink:      "file_link",
	SysFileOpen:      "file_open",
	SysFileReaddir:   "file_readdir",
	SysFileReadlink:  "file_readlink",
	SysFileRename:    "file_rename",
	SysFileStatFGet:  "file_stat_fget",
	SysFileStatFPut:  "file_stat_fput",
	SysFileStatGet:   "file_stat_get",
	SysFileStatPut:   "file_stat_put",
	SysFileSymlink:   "file_symlink",
	SysFileUnlink:    "file_unlink",
	SysLockUnlock:    "lock_unlock",
	SysMemAdvise:     "mem_advise",
	SysMemLock:       "mem_lock",
	SysMemMap:        "mem_map",
	SysMemProtect:    "mem_protect",
	SysMemSync:       "mem_sync",
	SysMemUnlock:     "mem_unlock",
	SysMemUnmap:      "mem_unmap",
	SysPoll:          "poll",
	SysPollFD:        "poll_fd",
	SysProcExec:      "proc_exec",
	SysProcExit:      "proc_exit",
	SysProcFork:      "proc_fork",
	SysProcRaise:     "proc_raise",
	SysRandomGet:     "random_get",
	SysSockRecv:      "sock_recv",
	SysSockSend:      "sock_send",
	SysSockShutdown:  "sock_shutdown",
	SysSockStatGet:   "sock_stat_get",
	SysSockAccept:    "sock_accept",
	SysSockBind:      "sock_bind",
	SysSockConnect:   "sock_connect",
	SysSockListen:    "sock_listen",
	SysThreadCreate:  "thread_create",
	SysThreadExit:    "thread_exit",
	SysThreadYield:   "thread_yield",
}

func (s SyscallNo) String() string {
	if s < sysCount {
		return syscallNames[s]
	}
	return "syscall(unknown)"
}

// Count is the number of distinct syscall numbers in the registry.
const Count = int(sysCount)
