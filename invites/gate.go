package invites

import "github.com/prepstock/go-prepstock-client/storage"

// registrationGateKey flags an in-progress registration flow. While it is
// set, pending invites are not processed, so a new account is never joined
// to groups before it is fully provisioned.
const registrationGateKey = "just_registered"

func MarkRegistrationInProgress(kv storage.KV) error {
	return kv.Set(registrationGateKey, "true")
}

func ClearRegistrationGate(kv storage.KV) {
	kv.Delete(registrationGateKey)
}

func registrationInProgress(kv storage.KV) bool {
	v, ok := kv.Get(registrationGateKey)
	return ok && v == "true"
}
