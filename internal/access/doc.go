// Package access provides the keypad access-control engine for Gray Logic.
//
// It decides whether a presented keypad code or RFID tag grants access,
// enforcing credential uniqueness, the user's active flag and weekly time
// windows, and keeps codes salted and hashed at rest.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────────────┐
//	│                          Access Engine                               │
//	│                                                                      │
//	│  ┌──────────────┐   ┌──────────────────┐   ┌──────────────────────┐  │
//	│  │    Engine    │──▶│  User/Schedule   │──▶│        Store         │  │
//	│  │ (engine.go)  │   │    Managers      │   │     (store.go)       │  │
//	│  │              │   │                  │   │                      │  │
//	│  │ • Lookup     │   │ • Validation     │   │ • Users, schedules   │  │
//	│  │ • Verdict    │   │ • Fresh salts    │   │ • Tag index          │  │
//	│  │ • Notify     │   │ • Cascade delete │   │ • Debounced flush    │  │
//	│  └──────────────┘   └──────────────────┘   └──────────────────────┘  │
//	│         │                                            │               │
//	└─────────│────────────────────────────────────────────│───────────────┘
//	          ▼                                            ▼
//	   Notifier (MQTT, log,                      Persistence (JSON file
//	   access log, metrics)                      or SQLite document)
//
// # Decision Order
//
//  1. Lookup: a code is verified against every user with a stored code; a
//     tag is looked up in the tag index.
//  2. No match: INVALID_CODE or INVALID_TAG.
//  3. Inactive user: INACTIVE_USER.
//  4. Active schedules exist but none covers the current local time:
//     INVALID_SCHEDULE. Windows are start-inclusive and end-exclusive and
//     never cross midnight. A user with no active schedules is unrestricted.
//  5. Otherwise access is granted and the user's last-used time is recorded.
//
// Removing a user removes its schedules in the same transaction. Afterwards
// no schedule of that user remains anywhere; ListForUser reports the user
// itself as ErrUserNotFound with an empty result.
//
// # Usage
//
//	cipher := access.NewCipher()
//	store := access.NewStore(persistence, access.WithSaveDelay(time.Second))
//	if err := store.Load(ctx); err != nil {
//	    return err
//	}
//	users := access.NewUserManager(store, access.NewUserValidator(access.DefaultPolicy(), cipher), cipher)
//	engine := access.NewEngine(store, users, cipher, access.WithNotifier(n))
//
//	verdict, err := engine.ValidateByCode(ctx, "1234", "front_door")
//
// # Thread Safety
//
// All exported types are safe for concurrent use. Validations run in
// parallel under a read lock; mutations are serialised by the Store.
package access
