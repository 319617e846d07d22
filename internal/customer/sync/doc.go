// Package sync reconciles the local customer cache with the remote source.
//
// Overview
//
// The Engine is the only writer of the local store. It accepts local
// mutations (create, edit, delete), validating each one against the current
// record set, and it performs full resyncs that replace the local set with the
// remote one.
//
// Architecture
//
//	caller ──► Engine ──► Validator ──► Store        (local mutation)
//	caller ──► Engine ──► Fetcher ──► normalize ──► dedup ──► Store.ReplaceAll
//
// Concurrency
//
// Every store mutation runs inside one critical section together with the
// validation read that precedes it, so two concurrent creates of "Ann" and
// "ann" cannot both pass validation. Resyncs are coalesced: a SyncFromRemote
// call made while another is in flight joins it and gets the same Result.
// The remote fetch runs outside the critical section; the replace runs inside
// it. Reads take no lock.
//
// A resync that has started finishes even if the caller's context is
// cancelled; the caller just stops waiting for it.
//
// Usage
//
//	store, err := db.Open(".custcache/customers.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//	if err := store.InitSchema(); err != nil {
//	    return err
//	}
//
//	fetcher, err := remote.New(remote.Config{Type: remote.TypeGraphQL, Endpoint: url, APIKey: key})
//	if err != nil {
//	    return err
//	}
//
//	engine := sync.New(store, fetcher, sync.WithLogger(logger))
//	customers, err := engine.Activate(ctx)
//
// Error Handling
//
// Local mutations fail with *schema.ValidationError when the candidate is
// rejected; storage is untouched in that case. A name collision reported by
// the store is surfaced the same way, with the uniqueness message. A failed
// fetch returns the *remote.RemoteError and leaves the store unchanged.
// Duplicates inside a remote set are logged and skipped, never returned.
package sync
