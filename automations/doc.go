// Package automations ships the prebuilt workflow library: the default
// event-to-trigger rule table and the definitions SiteWright sites get
// out of the box (cart abandonment, booking reminders, lead nurture,
// newsletter welcome). Hosts register the definitions they want and
// supply a notify.Notifier for the outbound steps; everything else is
// data-driven from the trigger payload.
package automations
