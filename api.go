// Package veil transforms sensitive fields of arbitrary object graphs.
//
// Fields declare what should happen to them with struct tags, and a Walker
// finds them at any depth: through pointers, embedded structs, slices,
// arrays, maps (keys included) and interfaces. Three transforms ship with the
// package:
//
//   - Confidentiality: RSA encryption and decryption, tag crypto:"encrypt|decrypt|all"
//   - Masking: display masking, tag mask:"<kind>"
//   - Digest: one-way hashing, tag hash:"<algo>"
//
// # Tags
//
//	type Customer struct {
//	    Name      string `json:"name" mask:"name"`
//	    Email     string `json:"email" mask:"email"`
//	    SSN       string `json:"ssn" crypto:"all"`
//	    SSNDirty  bool   `json:"-"`
//	    Password  string `json:"password" hash:"argon2"`
//	    PublicKey string `json:"publicKey" cryptokey:"public"`
//	    Private   *rsa.PrivateKey `json:"-" cryptokey:"private"`
//	}
//
// A field carries at most one of crypto, mask and hash. A struct carries at
// most one cryptokey:"public" (a string) and one cryptokey:"private" (a
// string or *rsa.PrivateKey). Violations are reported by Register and by the
// first walk reaching the type, and always abort.
//
// # Keys and dirty flags
//
// Confidentiality takes its keys from the nearest struct on the path to a
// field that declares cryptokey fields. Without a public key, encryption
// leaves the scope as it is. Without a private key, decryption asks the
// KeyProvider with the public key and stores the answer on the struct.
//
// A bool or *bool companion named <Field>Dirty gates each crypto field:
// encryption runs only when it is true, decryption only when it is false or
// nil.
//
// # Failures
//
// Declaration errors, cycles, unsupported modes and the depth limit abort a
// walk. Field-level failures (an unreadable key, a cipher error) leave the
// field untouched, are logged with zap and emitted as capitan events, and the
// walk continues. WithStrict(true) makes them abort as well.
//
// # Envelopes
//
// Values implementing Envelope are unwrapped, their payload walked, and the
// result rewrapped with the original metadata. Result, PagedResult and Page
// are provided.
//
// # Usage
//
//	masking := veil.NewMasking(veil.WithLogger(logger))
//	out, err := masking.Mask(ctx, veil.OK(customer))
//
//	conf := veil.NewConfidentiality(veil.RSA(), provider)
//	_, err = conf.Encrypt(ctx, &customer)
//
//	proc, err := veil.NewProcessor[Customer](json.New(), veil.WithKeyProvider(provider))
//	data, err := proc.Store(ctx, &customer)
package veil
