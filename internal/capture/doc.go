// Package capture sequences astrophotography exposures.
//
// A Sequencer owns a queue of SequenceJobs and drives the bound devices
// through them: filter and temperature preparation, flat-field calibration,
// exposure, image storage, autofocus and dither requests, meridian flips and
// guiding-quality suspensions. Devices never block the sequencer; every
// command completes later as an Event posted to the sequencer's loop, and
// all timers are delivered the same way, so state changes happen one event
// at a time in arrival order.
package capture
