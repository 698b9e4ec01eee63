package ena

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/jlaffaye/ftp"
)

// Upload names a local file and the name it gets in the webin drop box.
type Upload struct {
	Name string
	Path string
}

// FileTransfer moves run files into the submitter's drop box before the
// records referencing them are posted.
type FileTransfer interface {
	Upload(ctx context.Context, files []Upload) error
}

// FTPTransfer uploads over FTP with explicit TLS, the way webin expects.
type FTPTransfer struct {
	Host     string
	Username string
	Password string
	Timeout  time.Duration
}

func NewFTPTransfer(host, username, password string, timeout time.Duration) *FTPTransfer {
	return &FTPTransfer{Host: host, Username: username, Password: password, Timeout: timeout}
}

func (t *FTPTransfer) Upload(ctx context.Context, files []Upload) error {
	if len(files) == 0 {
		return nil
	}

	addr := t.Host
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "21")
	}
	host, _, _ := net.SplitHostPort(addr)

	conn, err := ftp.Dial(addr,
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(t.Timeout),
		ftp.DialWithExplicitTLS(&tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}),
	)
	if err != nil {
		return fmt.Errorf("cannot connect to the ftp server %s: %w", t.Host, err)
	}
	defer conn.Quit()

	if err := conn.Login(t.Username, t.Password); err != nil {
		return fmt.Errorf("ftp login to %s: %w", t.Host, err)
	}

	for _, f := range files {
		if err := t.store(conn, f); err != nil {
			return err
		}
	}
	return nil
}

func (t *FTPTransfer) store(conn *ftp.ServerConn, f Upload) error {
	fh, err := os.Open(f.Path)
	if err != nil {
		return fmt.Errorf("cannot upload file %s: %w", f.Path, err)
	}
	defer fh.Close()

	if err := conn.Stor(f.Name, fh); err != nil {
		return fmt.Errorf("cannot upload file %s to %s: %w", f.Path, t.Host, err)
	}
	return nil
}
