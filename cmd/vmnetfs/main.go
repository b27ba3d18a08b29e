// vmnetfs exposes the disk and memory images of a remote virtual machine
// as files, fetching their contents on demand from an HTTP(S) origin.
//
// The launcher writes a length-framed XML configuration document to stdin;
// the daemon answers on stdout with a blank line followed by the service
// address, or with a single error line. Closing stdin tears the session
// down. The namespace is served over 9P.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/gops/agent"
	"github.com/lionkov/go9p/p/srv"
	"github.com/nicolagi/vmnetfs/internal/config"
	"github.com/nicolagi/vmnetfs/internal/fs"
	"github.com/nicolagi/vmnetfs/internal/image"
	"github.com/nicolagi/vmnetfs/internal/logstream"
	"github.com/nicolagi/vmnetfs/internal/netutil"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// fail reports a single error line on stdout, the contract with the
// launcher, and exits without mounting anything.
func fail(err error) {
	fmt.Printf("%v\n", err)
	os.Exit(1)
}

func imageConfig(ic config.Image) image.Config {
	cfg := image.Config{
		Name:        ic.Name,
		URL:         ic.Origin.URL,
		FetchOffset: ic.Origin.Offset,
		SegmentSize: ic.Origin.SegmentSize,
		ChunkSize:   ic.Cache.ChunkSize,
		Size:        ic.Size,
		CacheDir:    ic.Cache.Path,
	}
	if c := ic.Origin.Credentials; c != nil {
		cfg.Username = c.Username
		cfg.Password = c.Password
	}
	if v := ic.Origin.Validators; v != nil {
		cfg.ETag = v.ETag
		cfg.LastModified = v.LastModified
	}
	if c := ic.Origin.Cookies; c != nil {
		cfg.Cookies = c.Cookie
	}
	return cfg
}

func main() {
	if err := agent.Listen(agent.Options{}); err != nil {
		log.Printf("Could not start gops agent: %v", err)
	}
	// The parent controls our lifetime through stdin; interrupts aimed at
	// its process group must not kill the mount under the VM.
	signal.Ignore(syscall.SIGINT)

	listenNet := flag.String("listen-net", "unix", "Network to serve 9P on.")
	listenAddr := flag.String("listen-addr", "", "Address to serve 9P on.")
	debug := flag.Bool("D", false, "Print 9P dialogs.")
	flag.Parse()
	if *listenAddr == "" {
		*listenAddr = filepath.Join(os.TempDir(), fmt.Sprintf("vmnetfs.%d", os.Getpid()))
	}

	lg := logstream.Init()
	log.SetFormatter(&log.JSONFormatter{})

	stdin := bufio.NewReader(os.Stdin)
	doc, err := config.ReadFrom(stdin)
	if err != nil {
		fail(err)
	}

	images := make([]*image.Image, len(doc.Images))
	var g errgroup.Group
	for i := range doc.Images {
		i := i
		g.Go(func() error {
			img, err := image.New(imageConfig(doc.Images[i]))
			if err != nil {
				return errors.Wrapf(err, "image %q", doc.Images[i].Name)
			}
			images[i] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		fail(err)
	}

	root := fs.Build(doc.Censored(), images, lg.StreamGroup())
	fileserver, err := newOps(root)
	if err != nil {
		fail(err)
	}

	s := &srv.Srv{}
	s.Dotu = false
	s.Id = "vmnetfs"
	if *debug {
		s.Debuglevel = srv.DbgPrintFcalls
	}
	if !s.Start(fileserver) {
		fail(errors.New("go9p/p/srv.Srv.Start returned false"))
	}
	listener, err := netutil.Listen(*listenNet, *listenAddr)
	if err != nil {
		fail(err)
	}

	// Success handshake: blank line, then where to mount from.
	fmt.Printf("\n%s\n", *listenAddr)
	log.WithFields(log.Fields{
		"net":    *listenNet,
		"addr":   *listenAddr,
		"images": len(images),
	}).Info("Serving")

	for i, img := range images {
		if doc.Images[i].Fetch.Mode == "stream" {
			img.Prefetch()
		}
	}

	var eg errgroup.Group
	eg.Go(func() error {
		return s.StartListener(listener)
	})
	eg.Go(func() error {
		// The parent signals shutdown by closing our stdin.
		_, _ = io.Copy(ioutil.Discard, stdin)
		log.Print("Stdin closed, shutting down.")
		for _, img := range images {
			img.Close()
		}
		lg.Close()
		_ = listener.Close()
		if *listenNet == "unix" {
			_ = os.Remove(*listenAddr)
		}
		return nil
	})
	_ = eg.Wait()
	agent.Close()
}
