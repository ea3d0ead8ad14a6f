// Package corefs is the file-system-core facade: it wires the block
// cache, log, itable, and open-file layers into one FileSystem and exposes
// the syscall-shaped surface a caller actually wants (open/read/write/...),
// the way the teacher's main.go wires its own subsystems together and rv6's
// sysfile.rs implements each syscall's exact control flow on top of them.
package corefs

import (
	"sync"

	"github.com/gokernel/corefs/bcache"
	"github.com/gokernel/corefs/common"
	"github.com/gokernel/corefs/disk"
	"github.com/gokernel/corefs/inode"
	"github.com/gokernel/corefs/logging"
	"github.com/gokernel/corefs/metrics"
	"github.com/gokernel/corefs/pipe"
	"github.com/gokernel/corefs/super"
	"github.com/gokernel/corefs/txlog"
	"github.com/gokernel/corefs/vfile"
)

// FileSystem is the fully wired core: one device, its cache, its log, its
// itable, and the system-wide open-file and device tables.
type FileSystem struct {
	dev     uint32
	device  disk.Device
	Cache   *bcache.Cache
	Log     *txlog.Log
	Inodes  *inode.Table
	Files   *vfile.Table
	Devices *vfile.DevTable
	Metrics *metrics.Counters
	logger  *logging.Logger

	initOnce sync.Once
	initErr  error
	sb       *super.Superblock
	sbLoader super.Loader
}

// New constructs a FileSystem bound to device but does not yet touch the
// disk; call Init before issuing any operation.
func New(device disk.Device, log *logging.Logger) *FileSystem {
	if log == nil {
		log = logging.Default()
	}
	met := metrics.New()
	cache := bcache.New(device, common.NBuf)
	cache.SetMetrics(met)
	return &FileSystem{
		dev:     0,
		device:  device,
		Cache:   cache,
		Devices: vfile.NewDevTable(),
		Metrics: met,
		logger:  log,
	}
}

// Init loads the superblock, constructs the log over its reserved region,
// and replays any pending recovery, exactly once; concurrent callers all
// observe the same result (spec.md §9 "concurrent one-shot
// initialization").
func (fs *FileSystem) Init() error {
	fs.initOnce.Do(func() {
		sb, err := fs.sbLoader.Load(fs.dev, fs.Cache)
		if err != nil {
			fs.initErr = err
			return
		}
		fs.sb = sb
		fs.Log = txlog.New(fs.dev, sb.LogStart, sb.NLog, fs.Cache, fs.logger, fs.Metrics)
		if err := fs.Log.RecoverFromLog(); err != nil {
			fs.initErr = err
			return
		}
		fs.Inodes = inode.New(fs.Cache, fs.sb, fs.Log)
		fs.Files = vfile.NewTable(fs.Devices, fs.Inodes)
		fs.logger.Info("filesystem initialized", "blocks", sb.Size, "inodes", sb.NInodes)
	})
	return fs.initErr
}

// Begin starts a new transaction; callers must fs.Inodes.Begin() via this
// Txn and Done it on every exit path (spec.md §4.D).
func (fs *FileSystem) Begin() *txlog.Txn { return fs.Inodes.Begin() }

// Shutdown flushes the backing device and releases its OS resources.
// Callers must not issue further operations against fs afterward.
func (fs *FileSystem) Shutdown() error {
	if err := fs.device.Flush(); err != nil {
		return err
	}
	return fs.device.Close()
}

// Proc stands in for "the current process" (named an external collaborator
// by spec.md §1): the minimum state the syscall layer needs to resolve
// relative paths and hold descriptors.
type Proc struct {
	mu  sync.Mutex
	Cwd *inode.Inode
	Fds vfile.Descriptors
}

// NewProc creates a process rooted at cwd (typically the fs root), holding
// one reference on it.
func NewProc(cwd *inode.Inode) *Proc {
	return &Proc{Cwd: cwd}
}

// Root resolves and returns a ref-counted handle to the root directory,
// for constructing the first Proc.
func (fs *FileSystem) Root() (*inode.Inode, error) {
	return fs.Inodes.Get(fs.dev, common.ROOTINO)
}

// Chdir replaces p's cwd with the directory at path.
func (fs *FileSystem) Chdir(p *Proc, path string) error {
	tx := fs.Begin()
	defer tx.Done()

	p.mu.Lock()
	defer p.mu.Unlock()

	ip, err := fs.Inodes.Namei(tx, fs.dev, p.Cwd, path)
	if err != nil {
		return err
	}
	g := fs.Inodes.Lock(ip)
	if g.Typ() != common.TypeDir {
		g.Unlock()
		fs.Inodes.Put(tx, ip)
		return common.NewPathError("chdir", path, common.CodeNotDir)
	}
	g.Unlock()

	fs.Inodes.Put(tx, p.Cwd)
	p.Cwd = ip
	return nil
}

// Open implements open(2): resolve path under omode, creating it as a
// regular file if OCREATE is set and it does not exist, and install it
// into p's descriptor table. Grounded on rv6 sysfile.rs's sys_open.
func (fs *FileSystem) Open(p *Proc, path string, omode int) (int, error) {
	tx := fs.Begin()
	defer tx.Done()

	p.mu.Lock()
	cwd := p.Cwd
	p.mu.Unlock()

	var ip *inode.Inode
	var g *inode.Guard

	if omode&common.OCREATE != 0 {
		var err error
		ip, g, err = fs.create(tx, cwd, path, common.TypeFile, 0, 0)
		if err != nil {
			return -1, err
		}
	} else {
		var err error
		ip, err = fs.Inodes.Namei(tx, fs.dev, cwd, path)
		if err != nil {
			return -1, err
		}
		g = fs.Inodes.Lock(ip)
		if g.Typ() == common.TypeDir && omode != common.ORDONLY {
			g.Unlock()
			fs.Inodes.Put(tx, ip)
			return -1, common.NewPathError("open", path, common.CodeIsDir)
		}
	}

	f, err := fs.Files.Alloc()
	if err != nil {
		g.Unlock()
		fs.Inodes.Put(tx, ip)
		return -1, err
	}
	f.Kind = vfile.KindInode
	f.Ip = ip
	f.Readable = omode&common.OWRONLY == 0
	f.Writable = omode&(common.OWRONLY|common.ORDWR) != 0

	if g.Typ() == common.TypeDevice {
		f.Kind = vfile.KindDevice
		f.Major = g.Major()
	}
	if omode&common.OTRUNC != 0 && g.Typ() == common.TypeFile {
		g.Itrunc(tx)
	}
	g.Unlock()

	fd, err := p.Fds.FdAlloc(f)
	if err != nil {
		fs.Files.Close(tx, f)
		return -1, err
	}
	return fd, nil
}

// create implements the shared core of open(O_CREATE)/mkdir/mknod: look up
// the parent, reuse an existing dinode if one already matches, or allocate
// a fresh one, link it into the parent, and return it locked. Grounded on
// rv6 sysfile.rs's create().
func (fs *FileSystem) create(tx *txlog.Txn, cwd *inode.Inode, path string, typ common.InodeType, major, minor uint16) (*inode.Inode, *inode.Guard, error) {
	dir, name, err := fs.Inodes.NameiParent(tx, fs.dev, cwd, path)
	if err != nil {
		return nil, nil, err
	}
	dg := fs.Inodes.Lock(dir)

	if existing, _, err := dg.DirLookup(name); err == nil {
		eg := fs.Inodes.Lock(existing)
		dg.Unlock()
		fs.Inodes.Put(tx, dir)
		if typ == common.TypeFile && (eg.Typ() == common.TypeFile || eg.Typ() == common.TypeDevice) {
			return existing, eg, nil
		}
		eg.Unlock()
		fs.Inodes.Put(tx, existing)
		return nil, nil, common.NewPathError("create", path, common.CodeExists)
	}

	ip := fs.Inodes.Alloc(tx, fs.dev, typ)
	g := fs.Inodes.Lock(ip)
	g.SetNlink(1)
	g.SetMajorMinor(major, minor)
	g.Update(tx)

	if typ == common.TypeDir {
		if err := g.DirLink(tx, ".", ip.Inum); err != nil {
			panic(err)
		}
		if err := g.DirLink(tx, "..", dir.Inum); err != nil {
			panic(err)
		}
		dg.SetNlink(dg.Nlink() + 1)
		dg.Update(tx)
	}

	if err := dg.DirLink(tx, name, ip.Inum); err != nil {
		panic(err)
	}
	dg.Unlock()
	fs.Inodes.Put(tx, dir)
	return ip, g, nil
}

// Mkdir implements mkdir(2).
func (fs *FileSystem) Mkdir(p *Proc, path string) error {
	tx := fs.Begin()
	defer tx.Done()
	p.mu.Lock()
	cwd := p.Cwd
	p.mu.Unlock()
	_, g, err := fs.create(tx, cwd, path, common.TypeDir, 0, 0)
	if err != nil {
		return err
	}
	g.Unlock()
	return nil
}

// Mknod implements mknod(2): create a device special file.
func (fs *FileSystem) Mknod(p *Proc, path string, major, minor uint16) error {
	tx := fs.Begin()
	defer tx.Done()
	p.mu.Lock()
	cwd := p.Cwd
	p.mu.Unlock()
	_, g, err := fs.create(tx, cwd, path, common.TypeDevice, major, minor)
	if err != nil {
		return err
	}
	g.Unlock()
	return nil
}

// Link implements link(2): add a new name for an existing inode.
func (fs *FileSystem) Link(p *Proc, oldpath, newpath string) error {
	tx := fs.Begin()
	defer tx.Done()
	p.mu.Lock()
	cwd := p.Cwd
	p.mu.Unlock()

	ip, err := fs.Inodes.Namei(tx, fs.dev, cwd, oldpath)
	if err != nil {
		return err
	}
	g := fs.Inodes.Lock(ip)
	if g.Typ() == common.TypeDir {
		g.Unlock()
		fs.Inodes.Put(tx, ip)
		return common.NewPathError("link", oldpath, common.CodeIsDir)
	}
	g.SetNlink(g.Nlink() + 1)
	g.Update(tx)
	g.Unlock()

	dir, name, err := fs.Inodes.NameiParent(tx, fs.dev, cwd, newpath)
	if err != nil {
		fs.rollbackLink(tx, ip)
		return err
	}
	dg := fs.Inodes.Lock(dir)
	if dg.Inode().Dev != ip.Dev || dg.DirLink(tx, name, ip.Inum) != nil {
		dg.Unlock()
		fs.Inodes.Put(tx, dir)
		fs.rollbackLink(tx, ip)
		return common.NewPathError("link", newpath, common.CodeExists)
	}
	dg.Unlock()
	fs.Inodes.Put(tx, dir)
	fs.Inodes.Put(tx, ip)
	return nil
}

func (fs *FileSystem) rollbackLink(tx *txlog.Txn, ip *inode.Inode) {
	g := fs.Inodes.Lock(ip)
	g.SetNlink(g.Nlink() - 1)
	g.Update(tx)
	g.Unlock()
	fs.Inodes.Put(tx, ip)
}

// Unlink implements unlink(2): remove name from its parent directory,
// refusing to remove non-empty directories or "." / "..".
func (fs *FileSystem) Unlink(p *Proc, path string) error {
	tx := fs.Begin()
	defer tx.Done()
	p.mu.Lock()
	cwd := p.Cwd
	p.mu.Unlock()

	dir, name, err := fs.Inodes.NameiParent(tx, fs.dev, cwd, path)
	if err != nil {
		return err
	}
	if name == "." || name == ".." {
		fs.Inodes.Put(tx, dir)
		return common.NewPathError("unlink", path, common.CodeInvalid)
	}
	dg := fs.Inodes.Lock(dir)

	ip, off, err := dg.DirLookup(name)
	if err != nil {
		dg.Unlock()
		fs.Inodes.Put(tx, dir)
		return err
	}
	g := fs.Inodes.Lock(ip)

	if g.Typ() == common.TypeDir && !g.IsDirEmpty() {
		g.Unlock()
		fs.Inodes.Put(tx, ip)
		dg.Unlock()
		fs.Inodes.Put(tx, dir)
		return common.NewPathError("unlink", path, common.CodeDirNotEmpty)
	}

	empty := make([]byte, common.DirentSize)
	if _, err := dg.Write(tx, common.NewKernelBuf(empty), off, common.DirentSize); err != nil {
		panic(err)
	}
	if g.Typ() == common.TypeDir {
		dg.SetNlink(dg.Nlink() - 1)
		dg.Update(tx)
	}
	dg.Unlock()
	fs.Inodes.Put(tx, dir)

	g.SetNlink(g.Nlink() - 1)
	g.Update(tx)
	g.Unlock()
	fs.Inodes.Put(tx, ip)
	return nil
}

// Read implements read(2) on a descriptor.
func (fs *FileSystem) Read(p *Proc, fd int, dst []byte) (int, error) {
	f, err := p.Fds.Get(fd)
	if err != nil {
		return 0, err
	}
	return f.Read(fs.Files, dst)
}

// Write implements write(2) on a descriptor. For KindInode files, f.Write
// itself slices the write into separately-committed chunks bounded by the
// log's per-op budget, so no single transaction is opened here.
func (fs *FileSystem) Write(p *Proc, fd int, src []byte) (int, error) {
	f, err := p.Fds.Get(fd)
	if err != nil {
		return 0, err
	}
	return f.Write(fs.Files, src)
}

// Close implements close(2).
func (fs *FileSystem) Close(p *Proc, fd int) error {
	f, err := p.Fds.Close(fd)
	if err != nil {
		return err
	}
	tx := fs.Begin()
	defer tx.Done()
	fs.Files.Close(tx, f)
	return nil
}

// Fstat implements fstat(2).
func (fs *FileSystem) Fstat(p *Proc, fd int) (common.Stat, error) {
	f, err := p.Fds.Get(fd)
	if err != nil {
		return common.Stat{}, err
	}
	return f.Stat(fs.Files)
}

// Dup implements dup(2): duplicate fd onto a new descriptor sharing the
// same File.
func (fs *FileSystem) Dup(p *Proc, fd int) (int, error) {
	f, err := p.Fds.Get(fd)
	if err != nil {
		return -1, err
	}
	fs.Files.Dup(f)
	nfd, err := p.Fds.FdAlloc(f)
	if err != nil {
		tx := fs.Begin()
		fs.Files.Close(tx, f)
		tx.Done()
		return -1, err
	}
	return nfd, nil
}

// Pipe implements pipe(2): create a pipe and install its read/write ends
// as two new descriptors in p.
func (fs *FileSystem) Pipe(p *Proc) (readFd, writeFd int, err error) {
	pp := pipe.New()

	rf, err := fs.Files.Alloc()
	if err != nil {
		return -1, -1, err
	}
	rf.Kind, rf.Pipe, rf.Readable = vfile.KindPipe, pp, true

	wf, err := fs.Files.Alloc()
	if err != nil {
		tx := fs.Begin()
		fs.Files.Close(tx, rf)
		tx.Done()
		return -1, -1, err
	}
	wf.Kind, wf.Pipe, wf.Writable = vfile.KindPipe, pp, true

	readFd, err = p.Fds.FdAlloc(rf)
	if err != nil {
		tx := fs.Begin()
		fs.Files.Close(tx, rf)
		fs.Files.Close(tx, wf)
		tx.Done()
		return -1, -1, err
	}
	writeFd, err = p.Fds.FdAlloc(wf)
	if err != nil {
		p.Fds.Close(readFd)
		tx := fs.Begin()
		fs.Files.Close(tx, rf)
		fs.Files.Close(tx, wf)
		tx.Done()
		return -1, -1, err
	}
	return readFd, writeFd, nil
}
