// Package provisioning persists clip provisioning state in SQLite.
//
// SQLiteRepository implements clip.Store: deploy records written when the
// cloud side announces a device, and device records written once the
// appliance acks. The schema lives in the top-level migrations package.
package provisioning
