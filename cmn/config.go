package cmn

import "fmt"

// Config carries exactly the enumerated options spec §6 says the core
// consumes. Loading it from a file, flags or the environment is explicitly
// out of scope (spec §1's Non-goals) -- callers construct one directly.
type Config struct {
	// ImageRoot is the base directory under which local block files live:
	// <ImageRoot>/<name>/<BlocknameFormat % block_idx>.
	ImageRoot string
	// MetaRoot is reserved for persistence backends that need a path
	// (e.g. kvstore.Scribble).
	MetaRoot string
	// BlocknameFormat is a single-integer Printf-style template that must
	// yield distinct filenames for distinct block indices.
	BlocknameFormat string
	// CorePort is the TCP port where peer hypervisors listen for
	// proxy_update_metadata.
	CorePort int
	// ProxyPort is the TCP port where node-storage RPC listens.
	ProxyPort int
	// BlockStats toggles per-block I/O counts to the stats.Observer.
	BlockStats bool
}

// Validate checks the handful of constraints the core relies on; it does
// not parse anything.
func (c *Config) Validate() error {
	if c.ImageRoot == "" {
		return fmt.Errorf("cmn: image_root must not be empty")
	}
	if c.BlocknameFormat == "" {
		return fmt.Errorf("cmn: blockname_format must not be empty")
	}
	if c.CorePort <= 0 || c.CorePort > 65535 {
		return fmt.Errorf("cmn: core_port out of range: %d", c.CorePort)
	}
	if c.ProxyPort <= 0 || c.ProxyPort > 65535 {
		return fmt.Errorf("cmn: proxy_port out of range: %d", c.ProxyPort)
	}
	return nil
}

// BlockPath returns the local path of block blkIdx of image name under this
// configuration's ImageRoot.
func (c *Config) BlockPath(name string, blkIdx int) string {
	return c.ImageRoot + "/" + name + "/" + fmt.Sprintf(c.BlocknameFormat, blkIdx)
}
