package models

// RemoteBank is a directory entry for a peer bank, mirrored wholesale
// from the central directory. BankPrefix is the unique lookup key.
type RemoteBank struct {
	Name           string `json:"name"`
	TransactionURL string `json:"transactionUrl"`
	APIKey         string `json:"apiKey"`
	BankPrefix     string `json:"bankPrefix"`
	Owners         string `json:"owners"`
	JwksURL        string `json:"jwksUrl"`
}

// Valid reports whether the entry carries every field needed to route
// and verify transfers. Entries failing this are skipped on refresh.
func (b *RemoteBank) Valid() bool {
	return b.Name != "" &&
		b.TransactionURL != "" &&
		len(b.BankPrefix) == PrefixLen &&
		b.JwksURL != ""
}
