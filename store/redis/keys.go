package redis

// Redis key naming conventions for courier data.
// All keys are prefixed with "courier:" to avoid collisions.

const keyPrefix = "courier:"

// messageKey returns the key for a message entity: courier:msg:{id}
func messageKey(id string) string { return keyPrefix + "msg:" + id }

// messageCreatedKey is the Sorted Set of message IDs scored by creation
// time, used for enumeration and age-based purging.
const messageCreatedKey = keyPrefix + "msg_created"

// codeKey returns the key for a one-time code: courier:otp:{phone}
func codeKey(phone string) string { return keyPrefix + "otp:" + phone }

// codeCreatedKey is the Sorted Set of phone numbers with active codes,
// scored by creation time.
const codeCreatedKey = keyPrefix + "otp_created"
