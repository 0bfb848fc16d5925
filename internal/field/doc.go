// Package field implements the named, typed field model every driver
// instance exposes to the rest of the platform.
//
// A driver registers its fields once during initialisation. Each
// registration returns an ID which is used for all hot-path access:
//
//	reg := field.NewRegistry()
//	id, err := reg.Register(field.Def{
//	    Name:   "LGHT#Dim_Kitchen",
//	    Type:   field.TypeCard,
//	    Access: field.AccessReadWrite,
//	    Sem:    field.SemDimmer,
//	    Limits: "Range: 0, 100",
//	})
//
// # Validity
//
// A field is Unknown until its first value arrives, Good while it holds a
// value accepted from the device, and Error when the driver has marked it
// bad. SetError keeps the last good value but Read refuses to return it, so
// consumers cannot mistake a stale value for a current one.
//
// # Generations
//
// Reset discards every field and starts a new generation. IDs carry the
// generation they were issued in, so an ID kept across a reinitialisation
// fails with ErrStaleID instead of silently addressing a different field.
//
// # Thread Safety
//
// All Registry methods are safe for concurrent use. Reads observe either the
// old or the new value, never a partial update. Change observers are invoked
// in the order the changes were applied.
package field
