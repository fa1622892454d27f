package internal

import "flag"

// BindFlags registers the store switches shared by the command line tools.
// The data file path is left to each tool.
func (c *Config) BindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.KeyText, "key", c.KeyText, "Base62 encryption key (default $AKVDB_KEY)")
	fs.StringVar(&c.Cipher, "cipher", c.Cipher, "Value cipher: aes-256-gcm or chacha20-poly1305")
	fs.BoolVar(&c.SyncWrites, "sync", c.SyncWrites, "fsync the data file after every write")
	fs.BoolVar(&c.RecoverTornTail, "recover", c.RecoverTornTail, "Truncate a partially written record at the end of the data file on load")
	fs.BoolVar(&c.Verbose, "v", c.Verbose, "Verbose logging")
}
