// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package osmodel models the operating systems and sandboxing platforms the analyzed programs run on: the system
// call tables, the file descriptor arguments of system calls and the system calls each platform permits inside a
// sandbox.
package osmodel

import (
	"fmt"

	"github.com/awslabs/ar-soaap-tools/analysis/config"
	"golang.org/x/tools/container/intsets"
)

// NoFdArg is the fd argument index of system calls that take no file descriptor
const NoFdArg = -1

// SysCall is a system call of an operating system
type SysCall struct {
	Name string
	// FdArg is the index of the file descriptor argument, or NoFdArg
	FdArg int
}

// Provider is the system call table of an operating system. System calls are indexed in table order; indices are
// the elements of the system call bit vectors of the analyses.
type Provider struct {
	name     string
	sysCalls []SysCall
	index    map[string]int
}

func newProvider(name string, sysCalls []SysCall) *Provider {
	p := &Provider{name: name, sysCalls: sysCalls, index: make(map[string]int, len(sysCalls))}
	for i, sc := range sysCalls {
		if _, dup := p.index[sc.Name]; !dup {
			p.index[sc.Name] = i
		}
	}
	return p
}

// ForOS returns the system call provider of the operating system named os (see config.OSFreeBSD and
// config.OSLinux)
func ForOS(os string) (*Provider, error) {
	switch os {
	case config.OSFreeBSD:
		return FreeBSD(), nil
	case config.OSLinux:
		return Linux(), nil
	}
	return nil, fmt.Errorf("os %q: %w", os, config.ErrUnknownOption)
}

// FreeBSD returns the FreeBSD system call table
func FreeBSD() *Provider { return newProvider(config.OSFreeBSD, freeBSDSysCalls) }

// Linux returns the Linux system call table
func Linux() *Provider { return newProvider(config.OSLinux, linuxSysCalls) }

// Name returns the name of the operating system
func (p *Provider) Name() string { return p.name }

// Len returns the number of system calls of the table
func (p *Provider) Len() int { return len(p.sysCalls) }

// IsSysCall returns true if name is a system call of the operating system
func (p *Provider) IsSysCall(name string) bool {
	_, ok := p.index[name]
	return ok
}

// Index returns the index of the system call name, or -1
func (p *Provider) Index(name string) int {
	if i, ok := p.index[name]; ok {
		return i
	}
	return -1
}

// SysCall returns the name of the system call at idx, or ""
func (p *Provider) SysCall(idx int) string {
	if idx < 0 || idx >= len(p.sysCalls) {
		return ""
	}
	return p.sysCalls[idx].Name
}

// HasFdArg returns true if the system call name takes a file descriptor argument
func (p *Provider) HasFdArg(name string) bool {
	return p.FdArgIdx(name) != NoFdArg
}

// FdArgIdx returns the index of the file descriptor argument of the system call name, or NoFdArg
func (p *Provider) FdArgIdx(name string) int {
	i, ok := p.index[name]
	if !ok {
		return NoFdArg
	}
	return p.sysCalls[i].FdArg
}

// Set returns the set of the indices of the system calls in names. Names that are not system calls are returned
// separately, in order.
func (p *Provider) Set(names []string) (*intsets.Sparse, []string) {
	set := &intsets.Sparse{}
	var unknown []string
	for _, name := range names {
		if i, ok := p.index[name]; ok {
			set.Insert(i)
		} else {
			unknown = append(unknown, name)
		}
	}
	return set, unknown
}

// Names returns the names of the system calls in set, in index order
func (p *Provider) Names(set *intsets.Sparse) []string {
	if set == nil {
		return nil
	}
	var names []string
	for _, i := range set.AppendTo(nil) {
		names = append(names, p.SysCall(i))
	}
	return names
}

// fd is a system call whose first argument is a file descriptor
func fd(name string) SysCall { return SysCall{Name: name, FdArg: 0} }

// nofd is a system call without file descriptor argument
func nofd(name string) SysCall { return SysCall{Name: name, FdArg: NoFdArg} }

var freeBSDSysCalls = []SysCall{
	nofd("exit"),
	nofd("fork"),
	fd("read"),
	fd("write"),
	nofd("open"),
	fd("close"),
	nofd("wait4"),
	nofd("link"),
	nofd("unlink"),
	nofd("chdir"),
	fd("fchdir"),
	nofd("mknod"),
	nofd("chmod"),
	nofd("chown"),
	nofd("getpid"),
	nofd("mount"),
	nofd("unmount"),
	nofd("setuid"),
	nofd("getuid"),
	nofd("geteuid"),
	nofd("ptrace"),
	fd("recvmsg"),
	fd("sendmsg"),
	fd("recvfrom"),
	fd("accept"),
	fd("getpeername"),
	fd("getsockname"),
	nofd("access"),
	nofd("chflags"),
	fd("fchflags"),
	nofd("sync"),
	nofd("kill"),
	nofd("getppid"),
	fd("dup"),
	nofd("pipe"),
	nofd("getegid"),
	nofd("sigaction"),
	nofd("getgid"),
	nofd("sigprocmask"),
	nofd("getlogin"),
	nofd("setlogin"),
	nofd("acct"),
	nofd("sigaltstack"),
	fd("ioctl"),
	nofd("reboot"),
	nofd("revoke"),
	nofd("symlink"),
	nofd("readlink"),
	nofd("execve"),
	nofd("umask"),
	nofd("chroot"),
	nofd("msync"),
	nofd("vfork"),
	nofd("munmap"),
	nofd("mprotect"),
	nofd("madvise"),
	nofd("getgroups"),
	nofd("setgroups"),
	nofd("getpgrp"),
	nofd("setpgid"),
	nofd("setitimer"),
	nofd("swapon"),
	nofd("getitimer"),
	nofd("getdtablesize"),
	fd("dup2"),
	fd("fcntl"),
	nofd("select"),
	fd("fsync"),
	nofd("setpriority"),
	nofd("socket"),
	fd("connect"),
	nofd("getpriority"),
	fd("bind"),
	fd("setsockopt"),
	fd("listen"),
	nofd("gettimeofday"),
	nofd("getrusage"),
	fd("getsockopt"),
	fd("readv"),
	fd("writev"),
	nofd("settimeofday"),
	fd("fchown"),
	fd("fchmod"),
	nofd("setreuid"),
	nofd("setregid"),
	nofd("rename"),
	fd("flock"),
	nofd("mkfifo"),
	fd("sendto"),
	fd("shutdown"),
	nofd("socketpair"),
	nofd("mkdir"),
	nofd("rmdir"),
	nofd("utimes"),
	nofd("setsid"),
	nofd("quotactl"),
	nofd("nfssvc"),
	nofd("getfh"),
	nofd("setgid"),
	nofd("setegid"),
	nofd("seteuid"),
	nofd("stat"),
	fd("fstat"),
	nofd("lstat"),
	nofd("pathconf"),
	fd("fpathconf"),
	nofd("getrlimit"),
	nofd("setrlimit"),
	fd("getdirentries"),
	nofd("__sysctl"),
	nofd("mlock"),
	nofd("munlock"),
	nofd("undelete"),
	fd("futimes"),
	nofd("getpgid"),
	nofd("poll"),
	nofd("clock_gettime"),
	nofd("clock_settime"),
	nofd("clock_getres"),
	nofd("nanosleep"),
	nofd("issetugid"),
	nofd("lchown"),
	fd("getdents"),
	nofd("lchmod"),
	nofd("lutimes"),
	fd("preadv"),
	fd("pwritev"),
	nofd("fhopen"),
	nofd("modfind"),
	nofd("kldload"),
	nofd("kldunload"),
	nofd("getsid"),
	nofd("setresuid"),
	nofd("setresgid"),
	fd("aio_read"),
	fd("aio_write"),
	nofd("mlockall"),
	nofd("munlockall"),
	nofd("__getcwd"),
	nofd("sched_yield"),
	nofd("sigsuspend"),
	nofd("sigpending"),
	nofd("sigtimedwait"),
	nofd("sigwaitinfo"),
	nofd("kqueue"),
	fd("kevent"),
	nofd("extattr_get_file"),
	fd("extattr_get_fd"),
	fd("extattr_set_fd"),
	nofd("uuidgen"),
	fd("sendfile"),
	nofd("sigreturn"),
	nofd("getcontext"),
	nofd("setcontext"),
	nofd("swapcontext"),
	nofd("thr_create"),
	nofd("thr_exit"),
	nofd("thr_self"),
	nofd("thr_kill"),
	nofd("jail_attach"),
	nofd("kmq_open"),
	nofd("kmq_unlink"),
	nofd("shm_open"),
	nofd("shm_unlink"),
	fd("pread"),
	fd("pwrite"),
	nofd("mmap"),
	fd("lseek"),
	nofd("truncate"),
	fd("ftruncate"),
	nofd("thr_kill2"),
	nofd("cpuset"),
	fd("faccessat"),
	fd("fchmodat"),
	fd("fchownat"),
	fd("fexecve"),
	fd("fstatat"),
	fd("futimesat"),
	fd("linkat"),
	fd("mkdirat"),
	fd("mkfifoat"),
	fd("mknodat"),
	fd("openat"),
	fd("readlinkat"),
	fd("renameat"),
	{Name: "symlinkat", FdArg: 1},
	fd("unlinkat"),
	nofd("posix_openpt"),
	nofd("closefrom"),
	fd("lpathconf"),
	nofd("cap_enter"),
	nofd("cap_getmode"),
	nofd("pdfork"),
	fd("pdkill"),
	fd("pdgetpid"),
	nofd("pselect"),
	fd("getloginclass"),
	fd("posix_fallocate"),
	fd("posix_fadvise"),
	fd("cap_rights_limit"),
	fd("cap_ioctls_limit"),
	fd("cap_ioctls_get"),
	fd("cap_fcntls_limit"),
	fd("cap_fcntls_get"),
	{Name: "__cap_rights_get", FdArg: 1},
	fd("bindat"),
	fd("connectat"),
	fd("accept4"),
	nofd("pipe2"),
	fd("fstatfs"),
	fd("fdatasync"),
}

var linuxSysCalls = []SysCall{
	fd("read"),
	fd("write"),
	nofd("open"),
	fd("close"),
	nofd("stat"),
	fd("fstat"),
	nofd("lstat"),
	nofd("poll"),
	fd("lseek"),
	{Name: "mmap", FdArg: 4},
	nofd("mprotect"),
	nofd("munmap"),
	nofd("brk"),
	nofd("rt_sigaction"),
	nofd("rt_sigprocmask"),
	nofd("rt_sigreturn"),
	fd("ioctl"),
	fd("pread64"),
	fd("pwrite64"),
	fd("readv"),
	fd("writev"),
	nofd("access"),
	nofd("pipe"),
	nofd("select"),
	nofd("sched_yield"),
	nofd("mremap"),
	nofd("msync"),
	nofd("mincore"),
	nofd("madvise"),
	nofd("shmget"),
	nofd("shmat"),
	nofd("shmctl"),
	fd("dup"),
	fd("dup2"),
	nofd("pause"),
	nofd("nanosleep"),
	nofd("getitimer"),
	nofd("alarm"),
	nofd("setitimer"),
	nofd("getpid"),
	{Name: "sendfile", FdArg: 1},
	nofd("socket"),
	fd("connect"),
	fd("accept"),
	fd("sendto"),
	fd("recvfrom"),
	fd("sendmsg"),
	fd("recvmsg"),
	fd("shutdown"),
	fd("bind"),
	fd("listen"),
	fd("getsockname"),
	fd("getpeername"),
	nofd("socketpair"),
	fd("setsockopt"),
	fd("getsockopt"),
	nofd("clone"),
	nofd("fork"),
	nofd("vfork"),
	nofd("execve"),
	nofd("exit"),
	nofd("wait4"),
	nofd("kill"),
	nofd("uname"),
	fd("fcntl"),
	fd("flock"),
	fd("fsync"),
	fd("fdatasync"),
	nofd("truncate"),
	fd("ftruncate"),
	fd("getdents"),
	nofd("getcwd"),
	nofd("chdir"),
	fd("fchdir"),
	nofd("rename"),
	nofd("mkdir"),
	nofd("rmdir"),
	nofd("creat"),
	nofd("link"),
	nofd("unlink"),
	nofd("symlink"),
	nofd("readlink"),
	nofd("chmod"),
	fd("fchmod"),
	nofd("chown"),
	fd("fchown"),
	nofd("lchown"),
	nofd("umask"),
	nofd("gettimeofday"),
	nofd("getrlimit"),
	nofd("getrusage"),
	nofd("sysinfo"),
	nofd("ptrace"),
	nofd("getuid"),
	nofd("getgid"),
	nofd("setuid"),
	nofd("setgid"),
	nofd("geteuid"),
	nofd("getegid"),
	nofd("setpgid"),
	nofd("getppid"),
	nofd("getpgrp"),
	nofd("setsid"),
	nofd("setreuid"),
	nofd("setregid"),
	nofd("getgroups"),
	nofd("setgroups"),
	nofd("setresuid"),
	nofd("setresgid"),
	nofd("sigaltstack"),
	nofd("mknod"),
	fd("fstatfs"),
	nofd("statfs"),
	nofd("getpriority"),
	nofd("setpriority"),
	nofd("mlock"),
	nofd("munlock"),
	nofd("mlockall"),
	nofd("munlockall"),
	nofd("prctl"),
	nofd("chroot"),
	nofd("sync"),
	nofd("mount"),
	nofd("umount2"),
	nofd("reboot"),
	nofd("gettid"),
	nofd("futex"),
	fd("getdents64"),
	nofd("clock_gettime"),
	nofd("clock_getres"),
	nofd("clock_nanosleep"),
	nofd("exit_group"),
	fd("epoll_wait"),
	fd("epoll_ctl"),
	nofd("tgkill"),
	nofd("inotify_init"),
	fd("inotify_add_watch"),
	fd("inotify_rm_watch"),
	fd("openat"),
	fd("mkdirat"),
	fd("mknodat"),
	fd("fchownat"),
	fd("newfstatat"),
	fd("unlinkat"),
	fd("renameat"),
	fd("linkat"),
	{Name: "symlinkat", FdArg: 1},
	fd("readlinkat"),
	fd("fchmodat"),
	fd("faccessat"),
	nofd("pselect6"),
	nofd("ppoll"),
	fd("splice"),
	fd("tee"),
	fd("sync_file_range"),
	fd("utimensat"),
	fd("epoll_pwait"),
	nofd("eventfd"),
	fd("fallocate"),
	fd("accept4"),
	nofd("eventfd2"),
	nofd("epoll_create1"),
	fd("dup3"),
	nofd("pipe2"),
	fd("preadv"),
	fd("pwritev"),
	fd("recvmmsg"),
	fd("sendmmsg"),
	fd("setns"),
	nofd("getrandom"),
	nofd("memfd_create"),
	nofd("seccomp"),
	nofd("sigreturn"),
}
